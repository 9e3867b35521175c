package model

// ToolID names a drawing tool.
type ToolID string

const (
	ToolPencil    ToolID = "pencil"
	ToolBrush     ToolID = "brush"
	ToolEraser    ToolID = "eraser"
	ToolFill      ToolID = "fill"
	ToolPicker    ToolID = "picker"
	ToolLine      ToolID = "line"
	ToolRect      ToolID = "rect"
	ToolAirbrush  ToolID = "airbrush"
	ToolMagicWand ToolID = "magic_wand"
	ToolAIReal    ToolID = "ai_real"
)

// DefaultTool is selected for new and logged-out sessions.
const DefaultTool = ToolBrush

// Tool describes a tool and the minimum tier that unlocks it.
type Tool struct {
	ID           ToolID `json:"id"`
	Name         string `json:"name"`
	RequiredTier Tier   `json:"required_tier"`
	Description  string `json:"description"`
}

var toolCatalog = []Tool{
	{ID: ToolPencil, Name: "Pencil", RequiredTier: TierFree, Description: "Thin strokes for sketching"},
	{ID: ToolBrush, Name: "Brush", RequiredTier: TierFree, Description: "Standard soft brush"},
	{ID: ToolEraser, Name: "Eraser", RequiredTier: TierFree, Description: "Erase strokes or color areas"},
	{ID: ToolFill, Name: "Fill", RequiredTier: TierFree, Description: "Fill a closed region"},
	{ID: ToolPicker, Name: "Color picker", RequiredTier: TierFree, Description: "Sample a color from the canvas"},
	{ID: ToolLine, Name: "Line", RequiredTier: TierVIP, Description: "Perfectly straight lines"},
	{ID: ToolRect, Name: "Shapes", RequiredTier: TierVIP, Description: "Rectangles and squares"},
	{ID: ToolAirbrush, Name: "Airbrush", RequiredTier: TierSSVIP, Description: "Fine spray effect"},
	{ID: ToolMagicWand, Name: "AI magic wand", RequiredTier: TierInfinity, Description: "Automatic stroke correction"},
	{ID: ToolAIReal, Name: "AI photoreal", RequiredTier: TierInfinity, Description: "Turn strokes into a realistic image"},
}

// Tools returns a copy of the tool catalog.
func Tools() []Tool {
	out := make([]Tool, len(toolCatalog))
	copy(out, toolCatalog)
	return out
}

// LookupTool finds a tool by id.
func LookupTool(id ToolID) (Tool, bool) {
	for _, t := range toolCatalog {
		if t.ID == id {
			return t, true
		}
	}
	return Tool{}, false
}

// GateDecision is the outcome of a tool gating check.
type GateDecision string

const (
	GateAllowed GateDecision = "allowed"
	GateDenied  GateDecision = "denied"
)
