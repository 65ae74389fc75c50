package core

import (
	"fmt"
	"strconv"
	"time"

	"casecore/pkg/domain"
)

const dateLayout = "2006-01-02"

func text(s string) *string { return &s }

func optText(s *string) *string {
	if s == nil {
		return nil
	}
	return text(*s)
}

func date(t time.Time) *string { return text(t.Format(dateLayout)) }

func optDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return date(*t)
}

func optTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return text(t.UTC().Format(time.RFC3339))
}

func boolean(b bool) *string { return text(strconv.FormatBool(b)) }

func childLabel(view domain.TransactionView, id string) string {
	if c, ok := view.FindChild(id); ok {
		return c.FullName()
	}
	return id
}

func userLabel(view domain.TransactionView, id string) string {
	if u, ok := view.FindUser(id); ok {
		return u.FullName()
	}
	return id
}

func centreLabel(view domain.TransactionView, id string) string {
	if c, ok := view.FindCentre(id); ok {
		return c.Name
	}
	return id
}

func addressFields[T any](get func(T) domain.Address) []fieldSpec[T] {
	return []fieldSpec[T]{
		{name: "address_line1", value: func(v T) *string { return text(get(v).Line1) }},
		{name: "address_line2", value: func(v T) *string { return text(get(v).Line2) }},
		{name: "city", value: func(v T) *string { return text(get(v).City) }},
		{name: "province", value: func(v T) *string { return text(get(v).Province) }},
		{name: "postal_code", value: func(v T) *string { return text(get(v).PostalCode) }},
	}
}

func guardianFields(prefix string, get func(domain.Child) domain.Guardian) []fieldSpec[domain.Child] {
	return []fieldSpec[domain.Child]{
		{name: prefix + "_name", value: func(c domain.Child) *string { return text(get(c).Name) }},
		{name: prefix + "_phone", value: func(c domain.Child) *string { return text(get(c).Phone) }},
		{name: prefix + "_email", value: func(c domain.Child) *string { return text(get(c).Email) }},
	}
}

func childSpec() entitySpec[domain.Child] {
	fields := []fieldSpec[domain.Child]{
		{name: "first_name", value: func(c domain.Child) *string { return text(c.FirstName) }},
		{name: "last_name", value: func(c domain.Child) *string { return text(c.LastName) }},
		{name: "date_of_birth", value: func(c domain.Child) *string { return optDate(c.DateOfBirth) }},
	}
	fields = append(fields, addressFields(func(c domain.Child) domain.Address { return c.Address })...)
	fields = append(fields, guardianFields("guardian1", func(c domain.Child) domain.Guardian { return c.Guardian })...)
	fields = append(fields, guardianFields("guardian2", func(c domain.Child) domain.Guardian { return c.SecondGuardian })...)
	fields = append(fields,
		fieldSpec[domain.Child]{name: "centre", value: func(c domain.Child) *string { return optText(c.CentreID) }, label: centreLabel},
		fieldSpec[domain.Child]{name: "overall_status", value: func(c domain.Child) *string { return text(string(c.OverallStatus)) }},
		fieldSpec[domain.Child]{name: "caseload_status", value: func(c domain.Child) *string { return text(string(c.CaseloadStatus)) }},
		fieldSpec[domain.Child]{name: "on_hold", value: func(c domain.Child) *string { return boolean(c.OnHold) }},
		fieldSpec[domain.Child]{name: "start_date", value: func(c domain.Child) *string { return date(c.StartDate) }},
		fieldSpec[domain.Child]{name: "end_date", value: func(c domain.Child) *string { return optDate(c.EndDate) }},
		fieldSpec[domain.Child]{name: "discharge_reason", value: func(c domain.Child) *string { return text(c.DischargeReason) }},
		fieldSpec[domain.Child]{name: "notes", value: func(c domain.Child) *string { return text(c.Notes) }},
	)
	return entitySpec[domain.Child]{
		entity: domain.EntityChild,
		id:     func(c domain.Child) string { return c.ID },
		fields: fields,
		created: func(_ domain.TransactionView, c domain.Child) (string, map[string]any) {
			return fmt.Sprintf("Child %s created", c.FullName()), nil
		},
	}
}

func centreSpec() entitySpec[domain.Centre] {
	fields := []fieldSpec[domain.Centre]{
		{name: "name", value: func(c domain.Centre) *string { return text(c.Name) }},
	}
	fields = append(fields, addressFields(func(c domain.Centre) domain.Address { return c.Address })...)
	fields = append(fields,
		fieldSpec[domain.Centre]{name: "phone", value: func(c domain.Centre) *string { return text(c.Phone) }},
		fieldSpec[domain.Centre]{name: "contact_name", value: func(c domain.Centre) *string { return text(c.ContactName) }},
		fieldSpec[domain.Centre]{name: "contact_email", value: func(c domain.Centre) *string { return text(c.ContactEmail) }},
		fieldSpec[domain.Centre]{name: "status", value: func(c domain.Centre) *string { return text(string(c.Status)) }},
		fieldSpec[domain.Centre]{name: "notes", value: func(c domain.Centre) *string { return text(c.Notes) }},
	)
	return entitySpec[domain.Centre]{
		entity: domain.EntityCentre,
		id:     func(c domain.Centre) string { return c.ID },
		fields: fields,
		created: func(_ domain.TransactionView, c domain.Centre) (string, map[string]any) {
			return fmt.Sprintf("Centre %s created", c.Name), nil
		},
		deleted: func(_ domain.TransactionView, c domain.Centre) (string, map[string]any) {
			return fmt.Sprintf("Centre %s deleted", c.Name), nil
		},
	}
}

func visitSpec() entitySpec[domain.Visit] {
	return entitySpec[domain.Visit]{
		entity: domain.EntityVisit,
		id:     func(v domain.Visit) string { return v.ID },
		fields: []fieldSpec[domain.Visit]{
			{name: "child", value: func(v domain.Visit) *string { return text(v.ChildID) }, label: childLabel},
			{name: "staff", value: func(v domain.Visit) *string { return text(v.StaffID) }, label: userLabel},
			{name: "centre", value: func(v domain.Visit) *string { return optText(v.CentreID) }, label: centreLabel},
			{name: "visit_date", value: func(v domain.Visit) *string { return date(v.VisitDate) }},
			{name: "start_time", value: func(v domain.Visit) *string { return text(v.StartTime) }},
			{name: "end_time", value: func(v domain.Visit) *string { return text(v.EndTime) }},
			{name: "visit_type", value: func(v domain.Visit) *string { return text(v.VisitType) }},
			{name: "location_description", value: func(v domain.Visit) *string { return text(v.LocationDescription) }},
			{name: "notes", value: func(v domain.Visit) *string { return text(v.Notes) }},
			{name: "flagged_for_review", value: func(v domain.Visit) *string { return boolean(v.FlaggedForReview) }},
		},
		created: func(view domain.TransactionView, v domain.Visit) (string, map[string]any) {
			return fmt.Sprintf("Visit for %s on %s created", childLabel(view, v.ChildID), v.VisitDate.Format(dateLayout)), nil
		},
		deleted: func(view domain.TransactionView, v domain.Visit) (string, map[string]any) {
			child := childLabel(view, v.ChildID)
			return fmt.Sprintf("Visit for %s on %s deleted", child, v.VisitDate.Format(dateLayout)), map[string]any{
				"child":      child,
				"staff":      userLabel(view, v.StaffID),
				"visit_date": v.VisitDate.Format(dateLayout),
				"duration":   v.DurationLabel(),
			}
		},
		updated: func(view domain.TransactionView, v domain.Visit) map[string]any {
			return map[string]any{
				"warning":    "Visit record modified after creation",
				"child":      childLabel(view, v.ChildID),
				"visit_date": v.VisitDate.Format(dateLayout),
			}
		},
	}
}

func assignmentSpec() entitySpec[domain.CaseloadAssignment] {
	names := func(view domain.TransactionView, a domain.CaseloadAssignment) (string, string) {
		return userLabel(view, a.StaffID), childLabel(view, a.ChildID)
	}
	return entitySpec[domain.CaseloadAssignment]{
		entity: domain.EntityAssignment,
		id:     func(a domain.CaseloadAssignment) string { return a.ID },
		fields: []fieldSpec[domain.CaseloadAssignment]{
			{name: "child", value: func(a domain.CaseloadAssignment) *string { return text(a.ChildID) }, label: childLabel},
			{name: "staff", value: func(a domain.CaseloadAssignment) *string { return text(a.StaffID) }, label: userLabel},
			{name: "is_primary", value: func(a domain.CaseloadAssignment) *string { return boolean(a.IsPrimary) }},
			{name: "assigned_at", value: func(a domain.CaseloadAssignment) *string { return optTimestamp(&a.AssignedAt) }},
			{name: "unassigned_at", value: func(a domain.CaseloadAssignment) *string { return optTimestamp(a.UnassignedAt) }},
			{name: "assigned_by", value: func(a domain.CaseloadAssignment) *string { return optText(a.AssignedBy) }, label: userLabel},
		},
		created: func(view domain.TransactionView, a domain.CaseloadAssignment) (string, map[string]any) {
			staff, child := names(view, a)
			return fmt.Sprintf("%s assignment: %s → %s", a.Kind(), staff, child),
				map[string]any{"staff": staff, "child": child, "is_primary": a.IsPrimary}
		},
		deleted: func(view domain.TransactionView, a domain.CaseloadAssignment) (string, map[string]any) {
			staff, child := names(view, a)
			return fmt.Sprintf("%s assignment removed: %s → %s", a.Kind(), staff, child),
				map[string]any{"staff": staff, "child": child, "is_primary": a.IsPrimary}
		},
		updated: func(view domain.TransactionView, a domain.CaseloadAssignment) map[string]any {
			staff, child := names(view, a)
			return map[string]any{"staff": staff, "child": child}
		},
	}
}

// userSpec audits privilege changes made by someone other than the subject.
func userSpec() entitySpec[domain.User] {
	return entitySpec[domain.User]{
		entity: domain.EntityUser,
		id:     func(u domain.User) string { return u.ID },
		fields: []fieldSpec[domain.User]{
			{name: "role", value: func(u domain.User) *string { return text(string(u.Role)) }},
			{name: "is_active", value: func(u domain.User) *string { return boolean(u.IsActive) }},
			{name: "is_staff", value: func(u domain.User) *string { return boolean(u.IsStaff) }},
			{name: "is_superuser", value: func(u domain.User) *string { return boolean(u.IsSuperuser) }},
		},
		created: func(_ domain.TransactionView, u domain.User) (string, map[string]any) {
			return fmt.Sprintf("User %s created with role %s", u.FullName(), u.Role), nil
		},
		updated: func(_ domain.TransactionView, u domain.User) map[string]any {
			return map[string]any{"target_user": u.FullName()}
		},
		include: func(actor domain.Actor, u domain.User) bool { return actor.ID != u.ID },
	}
}

func auditDescriptors() map[domain.EntityType]auditDescriptor {
	return map[domain.EntityType]auditDescriptor{
		domain.EntityChild:      childSpec(),
		domain.EntityCentre:     centreSpec(),
		domain.EntityVisit:      visitSpec(),
		domain.EntityAssignment: assignmentSpec(),
		domain.EntityUser:       userSpec(),
	}
}
