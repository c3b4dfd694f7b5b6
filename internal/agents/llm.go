package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"

	"replay-trader/pkg/utils"
)

// OpenAIClient is a thin chat-completion client.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client. An empty baseURL uses the OpenAI
// endpoint; any OpenAI-compatible endpoint works.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// CompleteJSON sends a system and user prompt and asks for a JSON object.
func (c *OpenAIClient) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}

// Model returns the model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

const decisionSystemPrompt = `You are a disciplined intraday trader on the China A-share market.
You only go long. Reply with one JSON object and nothing else:
{"action":"buy|sell|hold","symbol":"<symbol>","confidence":0.0-1.0,"quantity_shares":<int>,"reasoning":"<one or two sentences>"}`

// StrategyLLM routes an agent to the chat model provider.
const StrategyLLM = "llm"

// OpenAIProvider asks a chat model for a decision.
type OpenAIProvider struct {
	client *OpenAIClient
	bars   int
}

// NewOpenAIProvider creates a provider that shows the model the last bars
// closes of every symbol.
func NewOpenAIProvider(client *OpenAIClient, bars int) *OpenAIProvider {
	if bars <= 0 {
		bars = 30
	}
	return &OpenAIProvider{client: client, bars: bars}
}

// Decide implements Provider.
func (p *OpenAIProvider) Decide(ctx context.Context, req Request) (Payload, error) {
	if req.Context == nil {
		return nil, fmt.Errorf("openai provider: no context for %s", req.Agent.ID)
	}
	content, err := p.client.CompleteJSON(ctx, decisionSystemPrompt, p.prompt(req))
	if err != nil {
		return nil, err
	}
	return Payload(stripFences(content)), nil
}

func (p *OpenAIProvider) prompt(req Request) string {
	dc := req.Context
	var b strings.Builder

	fmt.Fprintf(&b, "Agent: %s (cycle %d)\n", req.Agent.DisplayName(), req.CycleNumber)
	fmt.Fprintf(&b, "Time: %s, trading day %s\n", utils.FormatBarTime(dc.BarTsMs, utils.ShanghaiLocation), dc.TradingDay)
	fmt.Fprintf(&b, "Active symbol: %s, lot size %d shares\n", dc.ActiveSymbol, dc.LotSize)
	fmt.Fprintf(&b, "Account: equity %s, cash %s, unrealized %s\n",
		utils.FormatCurrency(dc.Account.TotalEquity),
		utils.FormatCurrency(dc.Account.AvailableBalance),
		utils.FormatPnL(dc.Account.UnrealizedProfit))

	if len(dc.Positions) == 0 {
		b.WriteString("Positions: none\n")
	}
	for _, pos := range dc.Positions {
		fmt.Fprintf(&b, "Position: %s %d @ %.2f (mark %.2f)\n", pos.Symbol, pos.Quantity, pos.AveragePrice, pos.MarkPrice)
	}

	symbols := append([]string(nil), dc.Symbols...)
	sort.Strings(symbols)
	for _, symbol := range symbols {
		frames := dc.Frames[symbol]
		if len(frames) > p.bars {
			frames = frames[len(frames)-p.bars:]
		}
		closes := make([]string, 0, len(frames))
		for _, f := range frames {
			closes = append(closes, fmt.Sprintf("%.2f", f.Bar.Close))
		}
		fmt.Fprintf(&b, "%s last %d closes: %s\n", symbol, len(closes), strings.Join(closes, " "))
	}
	return b.String()
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
