package wayland

// Interfaces and opcodes used by the bridge. Only the subset the bridge
// speaks is listed.

const (
	ifaceDisplay        = "wl_display"
	ifaceRegistry       = "wl_registry"
	ifaceCallback       = "wl_callback"
	ifaceSeat           = "wl_seat"
	ifaceToplevelList   = "ext_foreign_toplevel_list_v1"
	ifaceToplevelHandle = "ext_foreign_toplevel_handle_v1"
	ifaceCosmicInfo     = "zcosmic_toplevel_info_v1"
	ifaceCosmicHandle   = "zcosmic_toplevel_handle_v1"
	ifaceCosmicManager  = "zcosmic_toplevel_manager_v1"
)

const displayID uint32 = 1

// wl_display
const (
	displaySync        uint16 = 0
	displayGetRegistry uint16 = 1

	displayEventError    uint16 = 0
	displayEventDeleteID uint16 = 1
)

// wl_registry
const (
	registryBind uint16 = 0

	registryEventGlobal       uint16 = 0
	registryEventGlobalRemove uint16 = 1
)

// wl_callback
const callbackEventDone uint16 = 0

// ext_foreign_toplevel_list_v1
const (
	listStop    uint16 = 0
	listDestroy uint16 = 1

	listEventToplevel uint16 = 0
	listEventFinished uint16 = 1
)

// ext_foreign_toplevel_handle_v1
const (
	handleDestroy uint16 = 0

	handleEventClosed     uint16 = 0
	handleEventDone       uint16 = 1
	handleEventTitle      uint16 = 2
	handleEventAppID      uint16 = 3
	handleEventIdentifier uint16 = 4
)

// zcosmic_toplevel_info_v1 (version 2+ hangs cosmic handles off the
// ext_foreign_toplevel handles)
const (
	infoGetCosmicToplevel uint16 = 1

	infoEventFinished uint16 = 1
	infoEventDone     uint16 = 2
)

// zcosmic_toplevel_handle_v1
const (
	cosmicDestroy uint16 = 0

	cosmicEventDone  uint16 = 1
	cosmicEventState uint16 = 8
)

// zcosmic_toplevel_handle_v1 state enum
const (
	stateMaximized  uint32 = 0
	stateMinimized  uint32 = 1
	stateActivated  uint32 = 2
	stateFullscreen uint32 = 3
)

// zcosmic_toplevel_manager_v1
const (
	managerActivate       uint16 = 2
	managerSetMinimized   uint16 = 5
	managerUnsetMinimized uint16 = 6

	managerEventCapabilities uint16 = 0
)

// Versions bound, capped at what the bridge understands.
const (
	seatVersion    uint32 = 1
	listVersion    uint32 = 1
	infoMinVersion uint32 = 2
	infoVersion    uint32 = 2
	managerVersion uint32 = 1
)
