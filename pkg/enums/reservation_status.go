package enums

// ReservationStatus tracks a stock hold for an order.
type ReservationStatus string

const (
	ReservationStatusActive   ReservationStatus = "active"
	ReservationStatusReleased ReservationStatus = "released"
)

// IsValid reports whether the value is a known ReservationStatus.
func (s ReservationStatus) IsValid() bool {
	return s == ReservationStatusActive || s == ReservationStatusReleased
}
