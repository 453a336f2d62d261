package command

// Kind tags the parsed command variant.
type Kind int

const (
	Move Kind = iota + 1
	Jump
	Walk
	Stop
	Spam
	Combo
	AIQuery
	AIOpen
	AIClose
	Status
	Chat
	Enable
	Disable
	Reset
	FindWindows
	ListWindows
	SelectWindow
	CurrentWindow
	Debug
)

type Direction string

const (
	DirLeft  Direction = "left"
	DirRight Direction = "right"
	DirUp    Direction = "up"
	DirDown  Direction = "down"
)

// Action is one sub-action of a spam or combo command: a direction key,
// "jump", or "space".
type Action string

const (
	ActJump  Action = "jump"
	ActSpace Action = "space"
	ActLeft  Action = Action(DirLeft)
	ActRight Action = Action(DirRight)
	ActUp    Action = Action(DirUp)
	ActDown  Action = Action(DirDown)
)

// Command is an immutable parsed operator command. Only the fields relevant
// to Kind are populated.
type Command struct {
	Kind      Kind
	Verb      string
	Direction Direction
	Distance  int
	Action    Action
	Count     int
	Actions   []Action
	Text      string
	Selector  string
}

// DefaultMoveDistance is used when $move omits the pixel distance.
const DefaultMoveDistance = 50
