package models

import "github.com/google/uuid"

// assignID gives a row a primary key before insert when the caller left it zero.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
