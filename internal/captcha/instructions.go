package captcha

import (
	_ "embed"
	"encoding/base64"
)

// The drag protocol needs explaining once, not per challenge: the piece,
// the motion and the dashed drop target never change, only the screenshot
// does. The illustration ships with the binary.
//
//go:embed assets/drag_instructions.png
var dragInstructionsPNG []byte

// DefaultDragImageB64 is the fixed illustration sent alongside drag-type
// screenshots.
var DefaultDragImageB64 = base64.StdEncoding.EncodeToString(dragInstructionsPNG)

// DefaultDragInstructions bundles the fixed comment and illustration for a
// drag-type task.
func DefaultDragInstructions() *DragInstructions {
	return &DragInstructions{
		Comment:  DefaultDragComment,
		ImageB64: DefaultDragImageB64,
	}
}
