package domain

// JobStatus is the server-side status vocabulary for a shipment job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusApproved  JobStatus = "approved"
	StatusQuoted    JobStatus = "quoted"
	StatusAssigned  JobStatus = "assigned"
	StatusPickedUp  JobStatus = "picked_up"
	StatusInTransit JobStatus = "in_transit"
	StatusDelivered JobStatus = "delivered"
	StatusCompleted JobStatus = "completed"
	StatusCancelled JobStatus = "cancelled"
)

// DisplayName returns the human-readable form of a status.
func (s JobStatus) DisplayName() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusApproved:
		return "Approved"
	case StatusQuoted:
		return "Quoted"
	case StatusAssigned:
		return "Assigned"
	case StatusPickedUp:
		return "Picked Up"
	case StatusInTransit:
		return "In Transit"
	case StatusDelivered:
		return "Delivered"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	}
	return string(s)
}

// Job is the client-side projection of a shipment job. Its Status field is
// only ever written through the status tracker's apply/rollback path.
type Job struct {
	ID                 int64     `json:"id"`
	ShipperID          int64     `json:"shipper_id"`
	DriverID           *int64    `json:"driver_id,omitempty"`
	Status             JobStatus `json:"status"`
	ShipmentType       string    `json:"shipment_type,omitempty"`
	PickupAddress      string    `json:"pickup_address"`
	PickupCity         string    `json:"pickup_city"`
	PickupPostalCode   string    `json:"pickup_postal_code"`
	DeliveryAddress    string    `json:"delivery_address"`
	DeliveryCity       string    `json:"delivery_city"`
	DeliveryPostalCode string    `json:"delivery_postal_code"`
	QuoteAmount        *float64  `json:"quote_amount,omitempty"`
	CreatedAt          string    `json:"created_at"`
	AssignedAt         *string   `json:"assigned_at,omitempty"`
	CompletedAt        *string   `json:"completed_at,omitempty"`
}

// IsActive reports whether the job is in the driver's working set.
func (j *Job) IsActive() bool {
	return j.Status == StatusAssigned || j.Status == StatusPickedUp || j.Status == StatusInTransit
}

// CanBeAccepted reports whether the job is still up for grabs.
func (j *Job) CanBeAccepted() bool {
	return j.Status == StatusPending || j.Status == StatusApproved || j.Status == StatusQuoted
}
