package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/multierr"

	"bankpredict/ml"
	"bankpredict/pipeline"
)

func main() {
	modelDir := flag.String("model_dir", "../models/best", "directory containing "+ml.ArtifactName)
	input := flag.String("input", "", "batch file to score")
	separator := flag.String("separator", ";", "field separator")
	encoding := flag.String("encoding", "utf-8", "input encoding")
	flag.Parse()

	if *input == "" {
		log.Fatal("input is required")
	}
	if len([]rune(*separator)) != 1 {
		log.Fatalf("separator must be a single character, got %q", *separator)
	}

	model, err := ml.LoadModel(*modelDir)
	if err != nil {
		log.Fatalf("failed to load model: %v", err)
	}

	labels, err := scoreFile(model, *input, pipeline.BatchOptions{
		Separator: []rune(*separator)[0],
		Encoding:  *encoding,
	})
	if err != nil {
		log.Fatalf("failed to score %s: %v", *input, err)
	}

	out, err := json.Marshal(map[string][]ml.Label{"predictions": labels})
	if err != nil {
		log.Fatalf("failed to encode predictions: %v", err)
	}
	fmt.Println(string(out))
}

func scoreFile(model ml.Predictor, path string, opts pipeline.BatchOptions) (labels []ml.Label, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, file.Close())
	}()

	samples, err := pipeline.ParseBatch(file, opts)
	if err != nil {
		return nil, err
	}
	return model.Predict(context.Background(), ml.SamplesFrame(samples))
}
