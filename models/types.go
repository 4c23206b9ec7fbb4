package models

import (
	"time"
)

// BBox is [x, y, w, h] in normalized image coordinates.
type BBox [4]float32

// CenterBox is the placeholder box reported for classifier output.
var CenterBox = BBox{0.25, 0.25, 0.5, 0.5}

// Center returns the box centre in normalized coordinates.
func (b BBox) Center() (x, y float32) {
	return b[0] + b[2]/2, b[1] + b[3]/2
}

// Valid reports whether every component lies in [0,1].
func (b BBox) Valid() bool {
	for _, v := range b {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}

type Detection struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// DetectionResult is the uniform outcome of one detection attempt,
// whichever strategy produced it.
type DetectionResult struct {
	Detections []Detection `json:"detections"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`

	// Mock is set when the detections are canned and do not reflect the frame.
	Mock     bool   `json:"mock,omitempty"`
	Strategy string `json:"strategy,omitempty"`

	Timings *ProcessingTimings `json:"-"`
}

// Failed builds an unsuccessful result carrying reason.
func Failed(reason string) DetectionResult {
	return DetectionResult{
		Detections: []Detection{},
		Success:    false,
		Error:      reason,
	}
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Quat is a unit rotation quaternion.
type Quat struct {
	W, X, Y, Z float64
}

// IdentityQuat is the zero rotation.
var IdentityQuat = Quat{W: 1}

// Pose is the camera transform at capture time. The camera looks down +Z
// with +Y up and +X to the right.
type Pose struct {
	Position Vec3
	Rotation Quat
}

// IdentityPose is a camera at the origin looking down +Z.
var IdentityPose = Pose{Rotation: IdentityQuat}

type SpawnDecision struct {
	EntityType    string  `json:"entity_type"`
	WorldPosition Vec3    `json:"world_position"`
	Label         string  `json:"label"`
	Confidence    float32 `json:"confidence"`
	CycleID       string  `json:"cycle_id,omitempty"`
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Total       time.Duration
}
