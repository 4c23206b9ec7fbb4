package detections

const (
	DefaultInputWidth  = 224
	DefaultInputHeight = 224
	DefaultThreshold   = 0.6
	Channels           = 3

	// MaxInputSide bounds target tensor dimensions.
	MaxInputSide = 4096
)
