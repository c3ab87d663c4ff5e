package ai

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	tokenizer "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	"github.com/xxxsen/common/logutil"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

const (
	defaultOnnxModel     = "all-MiniLM-L6-v2"
	defaultOnnxMaxSeqLen = 256
)

type onnxConfig struct {
	ModelPath         string `json:"model_path"`
	TokenizerPath     string `json:"tokenizer_path"`
	SharedLibraryPath string `json:"shared_library_path"`
	MaxSeqLen         int    `json:"max_seq_len"`
	IntraOpThreads    int    `json:"intra_op_threads"`
}

// The onnxruntime environment is global to the process.
var (
	ortEnvOnce sync.Once
	ortEnvErr  error
)

func initOrtEnvironment(libPath string) error {
	ortEnvOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortEnvErr = ort.InitializeEnvironment()
	})
	return ortEnvErr
}

// onnxModel is one loaded tokenizer + session pair. Embedders configured with the same
// files share a single onnxModel, so the weights are read once per process.
type onnxModel struct {
	key  string
	cfg  onnxConfig
	refs int

	once    sync.Once
	initErr error
	tok     *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
}

var (
	onnxModelsMu sync.Mutex
	onnxModels   = map[string]*onnxModel{}
)

func onnxModelKey(cfg onnxConfig) string {
	return fmt.Sprintf("%s|%s|%d", cfg.ModelPath, cfg.TokenizerPath, cfg.IntraOpThreads)
}

func acquireOnnxModel(cfg onnxConfig) *onnxModel {
	key := onnxModelKey(cfg)
	onnxModelsMu.Lock()
	defer onnxModelsMu.Unlock()
	m, ok := onnxModels[key]
	if !ok {
		m = &onnxModel{key: key, cfg: cfg}
		onnxModels[key] = m
	}
	m.refs++
	return m
}

func releaseOnnxModel(m *onnxModel) error {
	onnxModelsMu.Lock()
	m.refs--
	last := m.refs == 0
	if last && onnxModels[m.key] == m {
		delete(onnxModels, m.key)
	}
	onnxModelsMu.Unlock()
	if last && m.session != nil {
		return m.session.Destroy()
	}
	return nil
}

// onnxEmbedder runs a sentence-transformers model exported to ONNX. Weights are loaded
// on the first Embed call; later and concurrent calls reuse that load or its error.
type onnxEmbedder struct {
	model     string
	maxSeqLen int
	shared    *onnxModel
	closeOnce sync.Once
}

func (e *onnxEmbedder) ModelName() string {
	return "onnx:" + e.model
}

func (m *onnxModel) load(ctx context.Context) error {
	m.once.Do(func() {
		logger := logutil.GetLogger(ctx).With(zap.String("path", m.cfg.ModelPath))
		logger.Info("loading onnx embedding model")
		tok, err := pretrained.FromFile(m.cfg.TokenizerPath)
		if err != nil {
			m.initErr = fmt.Errorf("load tokenizer: %w", err)
			return
		}
		if err := initOrtEnvironment(m.cfg.SharedLibraryPath); err != nil {
			m.initErr = fmt.Errorf("init onnxruntime: %w", err)
			return
		}
		opts, err := ort.NewSessionOptions()
		if err != nil {
			m.initErr = fmt.Errorf("create session options: %w", err)
			return
		}
		defer opts.Destroy()
		if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
			m.initErr = fmt.Errorf("set graph optimization: %w", err)
			return
		}
		if err := opts.SetIntraOpNumThreads(m.cfg.IntraOpThreads); err != nil {
			logger.Warn("set intra op threads failed", zap.Error(err))
		}
		session, err := ort.NewDynamicAdvancedSession(
			m.cfg.ModelPath,
			[]string{"input_ids", "attention_mask", "token_type_ids"},
			[]string{"last_hidden_state"},
			opts,
		)
		if err != nil {
			m.initErr = fmt.Errorf("create session: %w", err)
			return
		}
		m.tok = tok
		m.session = session
		logger.Info("onnx embedding model loaded")
	})
	return m.initErr
}

func (e *onnxEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m := e.shared
	if err := m.load(ctx); err != nil {
		return nil, unavailable("onnx", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enc, err := m.tok.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	ids := enc.GetIds()
	mask := enc.GetAttentionMask()
	if len(ids) > e.maxSeqLen {
		// keep the trailing [SEP]
		last := ids[len(ids)-1]
		ids = append(ids[:e.maxSeqLen-1:e.maxSeqLen-1], last)
		mask = mask[:e.maxSeqLen]
	}
	seqLen := len(ids)
	if seqLen == 0 {
		return nil, fmt.Errorf("tokenizer produced no tokens")
	}
	inputIDs := make([]int64, seqLen)
	attention := make([]int64, seqLen)
	typeIDs := make([]int64, seqLen)
	for i := range ids {
		inputIDs[i] = int64(ids[i])
		attention[i] = int64(mask[i])
	}
	shape := ort.NewShape(1, int64(seqLen))
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attention)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, typeIDs)
	if err != nil {
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := m.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer outputs[0].Destroy()
	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output tensor is not float32")
	}
	outShape := hidden.GetShape()
	if len(outShape) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", outShape)
	}
	return meanPool(hidden.GetData(), attention, int(outShape[1]), int(outShape[2])), nil
}

// meanPool averages token states under the attention mask and L2-normalises the result,
// matching the sentence-transformers pooling for MiniLM models.
func meanPool(data []float32, mask []int64, seqLen, dim int) []float32 {
	sum := make([]float64, dim)
	var count float64
	for t := 0; t < seqLen && t < len(mask); t++ {
		if mask[t] == 0 {
			continue
		}
		count++
		row := data[t*dim : (t+1)*dim]
		for d, v := range row {
			sum[d] += float64(v)
		}
	}
	out := make([]float32, dim)
	if count == 0 {
		return out
	}
	var norm float64
	for d := range sum {
		sum[d] /= count
		norm += sum[d] * sum[d]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	for d := range sum {
		out[d] = float32(sum[d] / norm)
	}
	return out
}

// Close drops this embedder's reference; the session is destroyed with the last one.
func (e *onnxEmbedder) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = releaseOnnxModel(e.shared)
	})
	return err
}

func createOnnxEmbedder(model string, args interface{}) (IEmbedder, error) {
	cfg := onnxConfig{}
	if err := decodeConfig(args, &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.ModelPath) == "" || strings.TrimSpace(cfg.TokenizerPath) == "" {
		return nil, fmt.Errorf("onnx embedder requires model_path and tokenizer_path")
	}
	if cfg.MaxSeqLen <= 1 {
		cfg.MaxSeqLen = defaultOnnxMaxSeqLen
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultOnnxModel
	}
	return &onnxEmbedder{model: model, maxSeqLen: cfg.MaxSeqLen, shared: acquireOnnxModel(cfg)}, nil
}

func init() {
	Register("onnx", createOnnxEmbedder)
}
