package geosync

type ConstraintOp string

const (
	ConstraintOpEq      ConstraintOp = "=="
	ConstraintOpOrderBy ConstraintOp = "order-by"
	ConstraintOpLimit   ConstraintOp = "limit"
)

// Constraint is a server-side query predicate attached to a subscription.
type Constraint struct {
	Op    ConstraintOp `json:"op"`
	Field string       `json:"field,omitempty"`
	Value any          `json:"value,omitempty"`
}

func Where(field string, value any) *Constraint {
	return &Constraint{
		Op:    ConstraintOpEq,
		Field: field,
		Value: value,
	}
}

func OrderBy(field string) *Constraint {
	return &Constraint{
		Op:    ConstraintOpOrderBy,
		Field: field,
	}
}

func Limit(n int) *Constraint {
	return &Constraint{
		Op:    ConstraintOpLimit,
		Value: n,
	}
}

// FilterState scopes one subscription cycle: viewer role and id, explicit
// status/food-type filters, and the viewport. It is immutable for the
// duration of a cycle. Passing a new FilterState to the manager tears down
// all feeds and re-opens them, never adjusts them incrementally.
type FilterState struct {
	Bbox     *BoundingBox
	Status   string
	FoodType string
	UserId   string
	UserRole Role
}

// CollectionConstraints builds the server-side query for one collection.
//
// Donations are scoped by viewer role:
//   - donor sees own donations
//   - ngo sees available donations (an explicit status filter does not
//     override the role constraint)
//   - volunteer sees assigned donations
//   - admin or unset role sees everything
//
// Requests and volunteers are fetched unconstrained and filtered client-side.
func (self *FilterState) CollectionConstraints(collection string) []*Constraint {
	constraints := []*Constraint{}
	if collection != CollectionDonations {
		return constraints
	}

	roleStatusApplied := false
	switch {
	case self.UserRole == RoleDonor && self.UserId != "":
		constraints = append(constraints, Where(fieldOwner, self.UserId))
	case self.UserRole == RoleNgo:
		constraints = append(constraints, Where(fieldStatus, StatusAvailable))
		roleStatusApplied = true
	case self.UserRole == RoleVolunteer && self.UserId != "":
		constraints = append(constraints, Where(fieldAssignee, self.UserId))
	}

	if self.Status != "" && !roleStatusApplied {
		constraints = append(constraints, Where(fieldStatus, self.Status))
	}
	if self.FoodType != "" {
		constraints = append(constraints, Where(fieldFoodType, self.FoodType))
	}

	return constraints
}
