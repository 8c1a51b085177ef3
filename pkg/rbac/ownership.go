package rbac

// Ownership carries the owner identities of a record. Either field may be
// nil when the record type has no such link.
type Ownership struct {
	// CreatedBy is the user that created the record itself.
	CreatedBy *int64
	// PatientCreatedBy is the creator of the patient the record belongs to.
	PatientCreatedBy *int64
}

// Owned is implemented by records that take part in the ownership fallback.
// Records without ownership metadata are passed as nil.
type Owned interface {
	Ownership() Ownership
}

// PatientRecord is a patient row; its creator owns it directly.
type PatientRecord struct {
	ID        int64
	CreatedBy *int64
}

func (p PatientRecord) Ownership() Ownership {
	return Ownership{CreatedBy: p.CreatedBy}
}

// PatientLinkedRecord is any record hanging off a patient (observation,
// appointment, notification). Its own creator owns it directly; the patient's
// creator owns it indirectly.
type PatientLinkedRecord struct {
	ID               int64
	CreatedBy        *int64
	PatientID        int64
	PatientCreatedBy *int64
}

func (r PatientLinkedRecord) Ownership() Ownership {
	return Ownership{CreatedBy: r.CreatedBy, PatientCreatedBy: r.PatientCreatedBy}
}

// ownershipRule returns the rule under which userID owns resource for
// action, or "" when the fallback does not apply. Ownership never grants
// delete, directly or through the linked patient.
func ownershipRule(userID int64, action Action, resource Owned) Rule {
	if resource == nil {
		return ""
	}
	if action != ActionRead && action != ActionUpdate {
		return ""
	}
	own := resource.Ownership()
	if own.CreatedBy != nil && *own.CreatedBy == userID {
		return RuleOwner
	}
	if own.PatientCreatedBy != nil && *own.PatientCreatedBy == userID {
		return RuleLinkedOwner
	}
	return ""
}
