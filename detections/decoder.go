package detections

import (
	"math"

	"github.com/Tutortoise/trash-spawn-service/log"
	"github.com/Tutortoise/trash-spawn-service/models"
	"github.com/sirupsen/logrus"
)

// Decoder turns classifier scores into detections.
type Decoder struct {
	Labels    Labels
	Threshold float32
	// Softmax normalizes raw logits before thresholding.
	Softmax bool
	Logger  logrus.FieldLogger
}

func NewDecoder(labels Labels, threshold float32, softmax bool, logger logrus.FieldLogger) *Decoder {
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	return &Decoder{
		Labels:    labels,
		Threshold: threshold,
		Softmax:   softmax,
		Logger:    log.Component(logger, "decoder"),
	}
}

// Decode emits one detection per class whose score reaches the threshold,
// in class index order. Malformed output yields no detections and a logged
// DecodeAnomaly.
func (d *Decoder) Decode(raw RawOutput) []models.Detection {
	if anomaly := d.check(raw); anomaly != nil {
		d.logAnomaly(anomaly)
		return []models.Detection{}
	}

	scores := []float32(raw)
	if d.Softmax {
		scores = softmax(scores)
	}
	for _, s := range scores {
		if s < 0 || s > 1 {
			d.logAnomaly(&DecodeAnomaly{Reason: "score outside [0,1]", Length: len(raw), Want: len(d.Labels)})
			return []models.Detection{}
		}
	}

	detections := make([]models.Detection, 0, 2)
	for i, s := range scores {
		if s >= d.Threshold {
			detections = append(detections, models.Detection{
				Label:      d.Labels.Label(i),
				Confidence: s,
				BBox:       models.CenterBox,
			})
		}
	}
	return detections
}

func (d *Decoder) check(raw RawOutput) *DecodeAnomaly {
	if len(raw) != len(d.Labels) {
		return &DecodeAnomaly{Reason: "output length does not match label count", Length: len(raw), Want: len(d.Labels)}
	}
	for _, s := range raw {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return &DecodeAnomaly{Reason: "non-finite score", Length: len(raw), Want: len(d.Labels)}
		}
	}
	return nil
}

func (d *Decoder) logAnomaly(a *DecodeAnomaly) {
	log.Or(d.Logger).WithFields(logrus.Fields{
		"length": a.Length,
		"want":   a.Want,
	}).Warn(a.Error())
}

func softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxV := logits[0]
	for _, v := range logits[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxV))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
