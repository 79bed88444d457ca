package ml

import (
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactName is the pipeline file looked up inside the model directory.
const ArtifactName = "best_model_pipeline.joblib"

// ArtifactPath returns the artifact location for a model directory.
func ArtifactPath(modelDir string) string {
	return filepath.Join(modelDir, ArtifactName)
}

// LoadModel reads and validates the pipeline artifact stored in modelDir.
func LoadModel(modelDir string) (*ModelPipeline, error) {
	path := ArtifactPath(modelDir)
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	model, err := ParseModel(payload)
	if err != nil {
		return nil, fmt.Errorf("load model artifact %s: %w", path, err)
	}
	return model, nil
}
