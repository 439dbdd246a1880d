package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atera92/mensetsu-app/internal/models"
	"github.com/dlclark/regexp2"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// ErrNothingToEvaluate means the conversation has no answer from the
// candidate yet.
var ErrNothingToEvaluate = errors.New("conversation has no user turns")

// Evaluation is the judge's verdict on an interview transcript.
type Evaluation struct {
	Score      int               `json:"score"`
	Metrics    EvaluationMetrics `json:"metrics"`
	GoodPoints string            `json:"good_points"`
	Advice     string            `json:"advice"`
	Comment    string            `json:"comment"`
}

// EvaluationMetrics are rated 1 to 5.
type EvaluationMetrics struct {
	VoiceVolume     int `json:"voice_volume"`
	ResponseQuality int `json:"response_quality"`
	CompanyMatch    int `json:"company_match"`
	Episodes        int `json:"episodes"`
	Clarity         int `json:"clarity"`
}

const evaluationPrompt = `あなたは面接の評価者です。以下の面接の会話ログを読み、候補者を評価してください。
出力は次の形式のJSONのみとし、それ以外の文章は含めないでください。

{
  "score": 0から100の整数,
  "metrics": {
    "voice_volume": 1から5の整数,
    "response_quality": 1から5の整数,
    "company_match": 1から5の整数,
    "episodes": 1から5の整数,
    "clarity": 1から5の整数
  },
  "good_points": "良かった点",
  "advice": "改善のアドバイス",
  "comment": "総評"
}

会話ログ:
`

// jsonObject spans from the first '{' to the last '}' of the reply, so a
// verdict wrapped in prose or a code fence still parses.
var jsonObject = regexp2.MustCompile(`\{.*\}`, regexp2.Singleline)

// Evaluate asks the model to grade the stored transcript of a conversation.
// It holds the conversation's slot so the transcript does not change
// underneath it. Model and parse failures are a *GenerationError.
func (m *SessionManager) Evaluate(ctx context.Context, conversationID string) (*Evaluation, error) {
	sl, err := m.acquire(ctx, conversationID, false)
	if err != nil {
		return nil, &GenerationError{ConversationID: conversationID, Err: err}
	}
	defer m.release(conversationID, sl, true)

	history, err := m.store.History(ctx, conversationID)
	if err != nil {
		return nil, &GenerationError{ConversationID: conversationID, Err: fmt.Errorf("failed to load history: %w", err)}
	}
	if !hasUserTurn(history) {
		return nil, ErrNothingToEvaluate
	}

	genCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	prompt := evaluationPrompt + transcript(history)
	resp, err := m.model.GenerateContent(genCtx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		m.callOptions...)
	if err != nil {
		return nil, m.evaluationFailed(conversationID, fmt.Errorf("failed to generate evaluation: %w", err))
	}

	ev, err := parseEvaluation(firstText(resp))
	if err != nil {
		return nil, m.evaluationFailed(conversationID, err)
	}
	m.logger.Info("conversation evaluated",
		zap.String("conversation", conversationID),
		zap.Int("score", ev.Score),
		zap.Duration("latency", time.Since(start)))
	return ev, nil
}

func (m *SessionManager) evaluationFailed(conversationID string, err error) error {
	m.logger.Warn("evaluation failed", zap.String("conversation", conversationID), zap.Error(err))
	return &GenerationError{ConversationID: conversationID, Err: err}
}

func hasUserTurn(history []models.Turn) bool {
	for _, turn := range history {
		if turn.Role == models.RoleUser {
			return true
		}
	}
	return false
}

func transcript(history []models.Turn) string {
	var b strings.Builder
	for _, turn := range history {
		if turn.Role == models.RoleAssistant {
			b.WriteString("面接官: ")
		} else {
			b.WriteString("候補者: ")
		}
		b.WriteString(turn.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

func parseEvaluation(reply string) (*Evaluation, error) {
	match, err := jsonObject.FindStringMatch(reply)
	if err != nil {
		return nil, fmt.Errorf("failed to scan evaluation: %w", err)
	}
	if match == nil {
		return nil, errors.New("no JSON object in evaluation reply")
	}

	var ev Evaluation
	if err := json.Unmarshal([]byte(match.String()), &ev); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation: %w", err)
	}
	if ev.Score < 0 || ev.Score > 100 {
		return nil, fmt.Errorf("score %d out of range 0-100", ev.Score)
	}
	metrics := map[string]int{
		"voice_volume":     ev.Metrics.VoiceVolume,
		"response_quality": ev.Metrics.ResponseQuality,
		"company_match":    ev.Metrics.CompanyMatch,
		"episodes":         ev.Metrics.Episodes,
		"clarity":          ev.Metrics.Clarity,
	}
	for name, v := range metrics {
		if v < 1 || v > 5 {
			return nil, fmt.Errorf("metric %s = %d out of range 1-5", name, v)
		}
	}
	return &ev, nil
}
