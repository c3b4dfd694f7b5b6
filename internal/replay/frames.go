package replay

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"replay-trader/internal/errors"
	"replay-trader/internal/models"
)

// LoadFrames reads a market.frames.v1 document from disk.
func LoadFrames(path string) ([]models.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewDataError("frames", "", "opening "+path, err)
	}
	defer f.Close()
	return DecodeFrames(f)
}

// DecodeFrames decodes either a frame batch document or a bare JSON array of
// frames.
func DecodeFrames(r io.Reader) ([]models.Frame, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewDataError("frames", "", "reading batch", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.NewDataError("frames", "", "empty batch", errors.ErrInvalidFrames)
	}

	if data[0] == '[' {
		var frames []models.Frame
		if err := json.Unmarshal(data, &frames); err != nil {
			return nil, errors.NewDataError("frames", "", "decoding frame array", err)
		}
		return frames, nil
	}

	var batch models.FrameBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, errors.NewDataError("frames", "", "decoding frame batch", err)
	}
	if batch.SchemaVersion != "" && batch.SchemaVersion != models.BatchSchemaVersion {
		return nil, errors.NewDataError("frames", "", "unsupported schema "+batch.SchemaVersion, errors.ErrInvalidFrames)
	}
	return batch.Frames, nil
}
