package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXOracle is an in-process Oracle backed by an ONNX fraud model. It serves
// deployments that run the detector locally instead of calling a remote
// service; the scoring processor treats it exactly like any other oracle.
type ONNXOracle struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	inputShape ort.Shape
	modelName  string
	logger     *slog.Logger

	mu sync.RWMutex
}

// ONNXConfig for loading the local model
type ONNXConfig struct {
	ModelPath  string
	InputName  string
	OutputName string
	ModelName  string
}

// DefaultONNXConfig returns the standard fraud model layout
func DefaultONNXConfig(modelPath string) ONNXConfig {
	return ONNXConfig{
		ModelPath:  modelPath,
		InputName:  "input",
		OutputName: "output",
		ModelName:  "fraud_model",
	}
}

// featureCount must match training feature order below
const featureCount = 8

// NewONNXOracle loads the model, falling back to heuristic predictions when
// the model file is absent (mirrors how the service is run in dev).
func NewONNXOracle(cfg ONNXConfig, logger *slog.Logger) (*ONNXOracle, error) {
	o := &ONNXOracle{
		inputName:  cfg.InputName,
		outputName: cfg.OutputName,
		inputShape: ort.NewShape(1, featureCount),
		modelName:  cfg.ModelName,
		logger:     logger,
	}

	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		logger.Warn("model file not found, using heuristic predictions", "path", cfg.ModelPath)
		return o, nil
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	// Dynamic session: tensors are bound per Run call, not at creation.
	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	logger.Info("ONNX model loaded", "path", cfg.ModelPath)
	o.session = session
	return o, nil
}

// Predict implements Oracle
func (o *ONNXOracle) Predict(ctx context.Context, req *Request) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	features := featuresFromVariables(req.Variables)

	score, err := o.infer(features)
	if err != nil {
		return nil, err
	}

	return &Response{
		ModelScores: []ModelScore{{Model: o.modelName, Score: score}},
		Outcomes:    []string{outcomeFor(score)},
	}, nil
}

// Feature order: userVelocity1m, ipVelocity1m, deviceVelocity1m, geoVelocity1m,
// notional, amount, quantity, authFailed.
func featuresFromVariables(vars map[string]string) []float32 {
	f := func(name string) float32 {
		v, err := strconv.ParseFloat(vars[name], 64)
		if err != nil {
			return 0
		}
		return float32(v)
	}
	authFailed := float32(0)
	if vars["authSuccess"] == "false" {
		authFailed = 1
	}
	return []float32{
		f("userVelocity1m"),
		f("ipVelocity1m"),
		f("deviceVelocity1m"),
		f("geoVelocity1m"),
		f("notional"),
		f("amount"),
		f("quantity"),
		authFailed,
	}
}

func (o *ONNXOracle) infer(features []float32) (float64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.session == nil {
		return heuristicScore(features), nil
	}

	inputTensor, err := ort.NewTensor(o.inputShape, features)
	if err != nil {
		return 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputShape := ort.NewShape(1, 1)
	outputData := make([]float32, 1)
	outputTensor, err := ort.NewTensor(outputShape, outputData)
	if err != nil {
		return 0, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	err = o.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to run inference: %w", err)
	}

	result := float64(outputData[0])
	if result < 0 {
		result = 0
	}
	if result > 1 {
		result = 1
	}
	return result, nil
}

// heuristicScore approximates the model when no ONNX file is loaded
func heuristicScore(f []float32) float64 {
	var score float64

	if f[0] > 10 { // user velocity burst
		score += 0.25
	} else if f[0] > 5 {
		score += 0.1
	}
	if f[1] > 10 || f[2] > 10 { // ip/device velocity burst
		score += 0.15
	}
	if f[4] > 10000 { // large notional
		score += 0.2
	}
	if f[5] > 1000 { // large payment
		score += 0.2
	}
	if f[7] > 0 { // failed auth
		score += 0.25
	}

	if score > 1 {
		score = 1
	}
	return score
}

func outcomeFor(score float64) string {
	switch {
	case score >= 0.8:
		return "BLOCK"
	case score >= 0.5:
		return "MFA"
	default:
		return "ALLOW"
	}
}

// Close releases model resources
func (o *ONNXOracle) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session != nil {
		o.session.Destroy()
	}
	return nil
}
