// Package spawn decides which monster appears for a detection and where it
// is placed in the world.
package spawn

import (
	"math"

	"github.com/Tutortoise/trash-spawn-service/models"
	"gonum.org/v1/gonum/mat"
)

// DefaultEntityType is spawned for labels missing from the table.
const DefaultEntityType = "DragonNightmare_Blue"

// EntityTypes maps trash labels to the monster spawned for them.
var EntityTypes = map[string]string{
	"plastic_bottle": "DragonNightmare_Blue",
	"plastic_bag":    "DragonNightmare_Green",
	"can":            "DragonSoulEater_Blue",
	"metal_waste":    "DragonSoulEater_Red",
	"paper":          "DragonTerrorBringer_Purple",
	"cardboard":      "DragonTerrorBringer_Blue",
	"glass":          "DragonUsurper_Green",
	"organic":        "DragonUsurper_Purple",
}

// MapLabelToEntityType returns the monster for label. Unknown labels get
// DefaultEntityType.
func MapLabelToEntityType(label string) string {
	if t, ok := EntityTypes[label]; ok {
		return t
	}
	return DefaultEntityType
}

// Projection describes the virtual camera spawn points are projected through.
type Projection struct {
	// Distance along the camera forward axis, in world units.
	Distance float64
	// Viewport size in pixels.
	ViewportWidth  int
	ViewportHeight int
	// Vertical field of view in degrees.
	FOV float64
}

// DefaultProjection places spawns 5 units ahead of a 1920x1080, 60° camera.
func DefaultProjection() Projection {
	return Projection{Distance: 5, ViewportWidth: 1920, ViewportHeight: 1080, FOV: 60}
}

func (p Projection) normalized() Projection {
	d := DefaultProjection()
	if p.Distance <= 0 {
		p.Distance = d.Distance
	}
	if p.ViewportWidth <= 0 || p.ViewportHeight <= 0 {
		p.ViewportWidth, p.ViewportHeight = d.ViewportWidth, d.ViewportHeight
	}
	if p.FOV <= 0 || p.FOV >= 180 {
		p.FOV = d.FOV
	}
	return p
}

// ComputeWorldPosition projects the bbox centre through the camera at pose
// onto the plane Distance units ahead. Normalized image coordinates have y
// pointing down; camera space has y up and looks down +Z.
func (p Projection) ComputeWorldPosition(bbox models.BBox, pose models.Pose) models.Vec3 {
	p = p.normalized()

	cx, cy := bbox.Center()
	sx := float64(cx) * float64(p.ViewportWidth)
	sy := float64(cy) * float64(p.ViewportHeight)

	ndcX := 2*sx/float64(p.ViewportWidth) - 1
	ndcY := 1 - 2*sy/float64(p.ViewportHeight)

	halfH := math.Tan(p.FOV*math.Pi/360) * p.Distance
	halfW := halfH * float64(p.ViewportWidth) / float64(p.ViewportHeight)

	local := mat.NewVecDense(3, []float64{ndcX * halfW, ndcY * halfH, p.Distance})

	var world mat.VecDense
	world.MulVec(rotationMatrix(pose.Rotation), local)

	return models.Vec3{
		X: world.AtVec(0),
		Y: world.AtVec(1),
		Z: world.AtVec(2),
	}.Add(pose.Position)
}

// rotationMatrix converts q to a 3x3 matrix, normalizing it first. A zero
// quaternion is treated as identity.
func rotationMatrix(q models.Quat) *mat.Dense {
	n := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		q, n = models.IdentityQuat, 1
	}
	w, x, y, z := q.W/n, q.X/n, q.Y/n, q.Z/n

	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// Policy turns detections into spawn decisions.
type Policy struct {
	Projection Projection
}

func NewPolicy(p Projection) *Policy {
	return &Policy{Projection: p.normalized()}
}

// Plan builds the spawn decision for det seen from pose.
func (pl *Policy) Plan(det models.Detection, pose models.Pose) models.SpawnDecision {
	return models.SpawnDecision{
		EntityType:    MapLabelToEntityType(det.Label),
		WorldPosition: pl.Projection.ComputeWorldPosition(det.BBox, pose),
		Label:         det.Label,
		Confidence:    det.Confidence,
	}
}
