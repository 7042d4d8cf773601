package vision

import (
	"cmp"
	"fmt"
	"slices"

	ort "github.com/yalue/onnxruntime_go"
)

// candidate is one decoded RetinaFace box in analysis-frame pixels.
type candidate struct {
	x1, y1, x2, y2 float32
	score          float32
	landmarks      [5][2]float32 // eyes, nose, mouth corners
}

func (c candidate) area() float32 {
	return (c.x2 - c.x1) * (c.y2 - c.y1)
}

// retinaFace runs the det_10g detector. The model takes a fixed 640x640 input.
type retinaFace struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32] // scores x3, boxes x3, landmarks x3
	score   float32
	size    int
}

var strides = []int{8, 16, 32}

const anchorsPerCell = 2

func newRetinaFace(modelPath string, scoreThreshold float32, opts *ort.SessionOptions) (*retinaFace, error) {
	const size = 640

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// det_10g output names, no batch dimension. Rows per stride = (640/s)^2 * 2.
	names := []string{"448", "471", "494", "451", "474", "497", "454", "477", "500"}
	cols := []int64{1, 1, 1, 4, 4, 4, 10, 10, 10}

	det := &retinaFace{input: input, score: scoreThreshold, size: size}
	values := make([]ort.Value, len(names))
	for i := range names {
		stride := int64(strides[i%3])
		rows := (size / stride) * (size / stride) * anchorsPerCell
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(rows, cols[i]))
		if err != nil {
			det.Close()
			return nil, fmt.Errorf("create output tensor %s: %w", names[i], err)
		}
		det.outputs = append(det.outputs, t)
		values[i] = t
	}

	det.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, names,
		[]ort.Value{input}, values,
		opts,
	)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return det, nil
}

// run detects faces in a CHW tensor built from a frameW x frameH image and
// returns boxes scaled back to that frame, after NMS.
func (d *retinaFace) run(chw []float32, frameW, frameH int) ([]candidate, error) {
	copy(d.input.GetData(), chw)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}
	return nms(d.decode(frameW, frameH), 0.4), nil
}

// decode turns anchor offsets into boxes. Offsets are in stride units from the
// anchor centre.
func (d *retinaFace) decode(frameW, frameH int) []candidate {
	sx := float32(frameW) / float32(d.size)
	sy := float32(frameH) / float32(d.size)

	var out []candidate
	for si, stride := range strides {
		scores := d.outputs[si].GetData()
		boxes := d.outputs[si+3].GetData()
		marks := d.outputs[si+6].GetData()
		cells := d.size / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < cells; cy++ {
			for cx := 0; cx < cells; cx++ {
				for a := 0; a < anchorsPerCell; a++ {
					if scores[idx] >= d.score {
						ax, ay := float32(cx)*st, float32(cy)*st
						c := candidate{
							x1:    clamp((ax-boxes[idx*4]*st)*sx, 0, float32(frameW)),
							y1:    clamp((ay-boxes[idx*4+1]*st)*sy, 0, float32(frameH)),
							x2:    clamp((ax+boxes[idx*4+2]*st)*sx, 0, float32(frameW)),
							y2:    clamp((ay+boxes[idx*4+3]*st)*sy, 0, float32(frameH)),
							score: scores[idx],
						}
						for li := 0; li < 5; li++ {
							c.landmarks[li][0] = (ax + marks[idx*10+li*2]*st) * sx
							c.landmarks[li][1] = (ay + marks[idx*10+li*2+1]*st) * sy
						}
						out = append(out, c)
					}
					idx++
				}
			}
		}
	}
	return out
}

func (d *retinaFace) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, t := range d.outputs {
		t.Destroy()
	}
}

// nms keeps the highest-scoring box of every overlapping cluster.
func nms(cs []candidate, iouThreshold float32) []candidate {
	slices.SortFunc(cs, func(a, b candidate) int { return cmp.Compare(b.score, a.score) })

	var keep []candidate
	for _, c := range cs {
		suppressed := false
		for _, k := range keep {
			if iou(c, k) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			keep = append(keep, c)
		}
	}
	return keep
}

func iou(a, b candidate) float32 {
	w := min(a.x2, b.x2) - max(a.x1, b.x1)
	h := min(a.y2, b.y2) - max(a.y1, b.y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	inter := w * h
	union := a.area() + b.area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}
