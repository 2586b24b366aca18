package worker

import (
	"encoding/json"
	"fmt"

	"github.com/andresmejia3/lookout/internal/types"
)

// DetectPose runs pose estimation on a raw BGR frame.
func (w *ModelWorker) DetectPose(frame types.Frame) (types.PoseReply, error) {
	var reply types.PoseReply
	body, err := w.Communicate(OpPose, frame.Width, frame.Height, frame.Pix)
	if err != nil {
		return reply, err
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return reply, fmt.Errorf("decode pose reply: %w", err)
	}
	return reply, nil
}

// LocateFaces finds every face in a raw BGR frame and returns its box and embedding.
func (w *ModelWorker) LocateFaces(frame types.Frame) ([]types.FaceResult, error) {
	body, err := w.Communicate(OpFaces, frame.Width, frame.Height, frame.Pix)
	if err != nil {
		return nil, err
	}
	return decodeFaces(body)
}

// EmbedImage decodes an encoded reference image (JPEG or PNG) inside the model
// process and returns the faces found in it.
func (w *ModelWorker) EmbedImage(data []byte) ([]types.FaceResult, error) {
	body, err := w.Communicate(OpEmbed, 0, 0, data)
	if err != nil {
		return nil, err
	}
	return decodeFaces(body)
}

// ResetModel drops tracking state held by the model, such as pose smoothing.
func (w *ModelWorker) ResetModel() error {
	_, err := w.Communicate(OpReset, 0, 0, nil)
	return err
}

func decodeFaces(body []byte) ([]types.FaceResult, error) {
	var faces []types.FaceResult
	if len(body) == 0 {
		return faces, nil
	}
	if err := json.Unmarshal(body, &faces); err != nil {
		return nil, fmt.Errorf("decode face reply: %w", err)
	}
	return faces, nil
}
