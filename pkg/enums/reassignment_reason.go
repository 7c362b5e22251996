package enums

import "fmt"

// ReassignmentReason records why an order migrated between vendors.
type ReassignmentReason string

const (
	ReassignmentReasonSLABreach       ReassignmentReason = "sla_breach"
	ReassignmentReasonVendorRejection ReassignmentReason = "vendor_rejection"
	ReassignmentReasonManual          ReassignmentReason = "manual"
)

var validReassignmentReasons = []ReassignmentReason{
	ReassignmentReasonSLABreach,
	ReassignmentReasonVendorRejection,
	ReassignmentReasonManual,
}

// String implements fmt.Stringer.
func (r ReassignmentReason) String() string {
	return string(r)
}

// ParseReassignmentReason converts raw input into a ReassignmentReason.
func ParseReassignmentReason(value string) (ReassignmentReason, error) {
	for _, candidate := range validReassignmentReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reassignment reason %q", value)
}
