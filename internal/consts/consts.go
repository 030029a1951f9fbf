package consts

// SSE framing.
const (
	SSEEventPrefix = "event: "
	SSEDataPrefix  = "data: "
)

// Outbound stream event names.
const (
	EventLoadTasks     = "loadTasks"
	EventUpdateTasks   = "updateTasks"
	EventBoardSwitched = "boardSwitched"
)

// Inbound command types.
const (
	CmdAddTask     = "addTask"
	CmdTaskMoved   = "taskMoved"
	CmdRenameTask  = "renameTask"
	CmdDeleteTask  = "deleteTask"
	CmdSwitchBoard = "switchBoard"
)

// DefaultUpdatesChannel is the redis channel carrying board update notices.
const DefaultUpdatesChannel = "board-updates"
