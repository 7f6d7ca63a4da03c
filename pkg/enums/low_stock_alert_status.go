package enums

// LowStockAlertStatus tracks whether a low-stock alert still needs attention.
type LowStockAlertStatus string

const (
	LowStockAlertOpen     LowStockAlertStatus = "open"
	LowStockAlertResolved LowStockAlertStatus = "resolved"
)

func (s LowStockAlertStatus) IsValid() bool {
	return s == LowStockAlertOpen || s == LowStockAlertResolved
}
