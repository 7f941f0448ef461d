package ledger

// Property names of the ledger schema. The schema is provisioned outside
// this system; these names must match it.
const (
	PropName          = "Name"
	PropStatus        = "Status"
	PropBody          = "Body"
	PropAssignees     = "Assignees"
	PropReviewer      = "Reviewer"
	PropLink          = "Link"
	PropOrganization  = "Organization"
	PropRepository    = "Repository"
	PropNumber        = "Number"
	PropMilestone     = "Milestone"
	PropLabels        = "Labels"
	PropAuthor        = "Author"
	PropCreated       = "Created"
	PropUpdated       = "Updated"
	PropID            = "ID"
	PropProject       = "Project"
	PropProjectColumn = "Project Column"
)

// Status select options.
const (
	StatusInProgress = "In Progress"
	StatusDone       = "Done"
)

// Entry is one record of the ledger database.
type Entry struct {
	ID         string     `json:"id"`
	URL        string     `json:"url,omitempty"`
	Properties Properties `json:"properties"`
	Blocks     []Block    `json:"-"`
}
