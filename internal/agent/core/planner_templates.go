package core

import (
	"fmt"
	"strings"
)

// Prompt templates for every text-generation call site of the pipeline.

const plannerRole = "Boardroom Orchestrator"

const plannerGoal = "Analyse the user's request and produce a structured routing plan for the CXO board"

const plannerSystemTemplate = `You are the Boardroom Orchestrator, an elite executive advisor router.

Your job is to analyse incoming user queries and produce a structured routing plan.

You have %d CXO specialists available:
%s

Each agent's domain expertise:
%s

Your analysis must be returned as valid JSON with this exact schema:
{
  "intent": "<decision|analysis|planning|brainstorm|check-in>",
  "complexity": "<simple|compound|complex>",
  "reasoning": "<1-2 sentences explaining your routing logic>",
  "response_strategy": "<direct|multi-perspective|synthesis>",
  "sub_queries": [
    {
      "id": "sq1",
      "original_intent": "<what this sub-query answers>",
      "rewritten_query": "<context-enriched full question to send to agents>",
      "focus": "<10-word summary>",
      "agents": ["<AGENT_KEY>"]
    }
  ]
}

Rules:
- ALWAYS decompose compound/complex queries into multiple sub_queries
- Sub-queries should be focused and atomic: one concern per sub-query
- rewritten_query MUST embed user profile, relevant memory, and conversation context so the agent has everything it needs
- Choose agents based on domain expertise; route to 1-2 agents maximum per sub-query
- For simple queries: 1 sub-query, 1-2 agents, response_strategy = "direct"
- For compound queries: 2-3 sub-queries, response_strategy = "multi-perspective"
- For complex queries: 3+ sub-queries covering strategic angles, response_strategy = "synthesis"
- @AGENT explicit mentions override your routing for that part
- Always include %s for purely strategic/directional questions
- Return ONLY valid JSON, no markdown, no explanation outside the JSON`

const plannerUserTemplate = `USER PROFILE:
%s

RELEVANT MEMORIES (past decisions & context):
%s

RECENT CONVERSATION:
%s

USER QUERY:
%s

Available agents: %s

Analyse the query and return your routing plan as JSON.`

func buildPlannerPrompt(reg *Registry, defaultResponder string, req PlanRequest) string {
	var agents, domains strings.Builder
	for _, r := range reg.All() {
		fmt.Fprintf(&agents, "  %s: %s (%s)\n", r.ID, r.Name, r.Emoji)
		if len(r.Domains) > 0 {
			d := r.Domains
			if len(d) > 6 {
				d = d[:6]
			}
			fmt.Fprintf(&domains, "  %s: %s\n", r.ID, strings.Join(d, ", "))
		}
	}
	system := fmt.Sprintf(plannerSystemTemplate,
		len(reg.IDs()),
		strings.TrimRight(agents.String(), "\n"),
		strings.TrimRight(domains.String(), "\n"),
		defaultResponder,
	)
	user := fmt.Sprintf(plannerUserTemplate,
		orDefault(req.ContextText, noUserContext),
		orDefault(req.MemoryText, noMemories),
		orDefault(req.HistoryText, noHistory),
		req.Message,
		strings.Join(reg.IDs(), ", "),
	)
	return system + "\n\n" + user
}

func buildResponderPrompt(r Responder, item WorkItem, pc PromptContext) (prompt, expected string) {
	block := fmt.Sprintf("USER PROFILE:\n%s\n\nPERSISTENT MEMORY:\n%s\n\nRECENT CONVERSATION:\n%s\n\nQUERY:\n%s\n\nFOCUS AREA: %s",
		orDefault(pc.Profile, noUserContext),
		orDefault(pc.Memories, noMemories),
		orDefault(pc.History, noHistory),
		item.EnrichedPrompt,
		item.Focus,
	)
	prompt = fmt.Sprintf("As the %s, analyse this executive query:\n\n%s\n\nStay focused on your domain as %s.", r.Name, block, r.Role)
	expected = fmt.Sprintf("Structured response from %s:\n- **Situation Assessment**\n- **Recommendation**\n- **Rationale** (2-3 reasons)\n- **Next Steps** (3-5 actions)", r.Name)
	return prompt, expected
}

const validatorRole = "Boardroom Quality Validator"

const validatorGoal = "Evaluate whether a CXO agent's response actually serves the user well"

const validatorSystem = `You are the Boardroom Quality Validator, a rigorous executive advisor who reviews AI-generated responses.

Your job is to evaluate whether a CXO agent's response actually serves the user well.

Score each dimension 0-10:
- relevance: Does the response directly answer the specific query? (0=completely off-topic, 10=perfectly on-point)
- specificity: Are recommendations concrete and specific vs generic advice? (0=pure platitudes, 10=highly specific)
- context_use: Does the agent use the user's actual profile, stage, industry, goals? (0=ignored context, 10=deeply personalized)
- actionability: Are next steps clear, prioritized, realistic, and ownable? (0=vague, 10=crystal clear)

Return ONLY valid JSON:
{
  "scores": {
    "relevance": <0-10>,
    "specificity": <0-10>,
    "context_use": <0-10>,
    "actionability": <0-10>
  },
  "overall_score": <0-10 weighted average>,
  "passed": <true if overall_score >= %.1f>,
  "critique": "<2-3 sentences on what is weak or missing>",
  "revised_query": "<if not passed: original query + specific instructions to fix the weaknesses. If passed: empty string>",
  "reasoning": "<1 sentence on why it passed or failed>"
}`

const validatorUserTemplate = `ORIGINAL SUB-QUERY:
%s

USER CONTEXT:
%s

AGENT RESPONSE TO EVALUATE:
%s

Evaluate this response strictly. Users deserve highly personalized, actionable advice, not generic startup wisdom.`

func buildValidatorPrompt(threshold float64, query, output, contextText string) string {
	return fmt.Sprintf(validatorSystem, threshold) + "\n\n" +
		fmt.Sprintf(validatorUserTemplate, query, orDefault(contextText, noUserContext), output)
}

const revisionTemplate = "%s\n\nREVIEWER CRITIQUE OF THE PREVIOUS ANSWER (address every point):\n%s"

const synthesizerRole = "Boardroom Orchestrator"

const synthesizerGoal = "Synthesise CXO perspectives into a unified executive briefing"

const synthesizerBackstory = `You are the Boardroom, the final synthesiser.
Weave specialist CXO perspectives into one cohesive executive response.
Lead with the single most critical insight. Surface tensions honestly.
Give ONE clear recommendation with clear ownership. Be concise; every sentence earns its place.`

const synthesizerExpected = "Unified Boardroom Executive Briefing:\n" +
	"- **Executive Summary** (3 sentences max)\n" +
	"- **Key Insights** (include CXO tensions/trade-offs)\n" +
	"- **The Recommendation** (one clear decision path)\n" +
	"- **Next Steps** (5 items, prioritized)"

func buildSynthesisPrompt(reg *Registry, message string, plan Plan, contextText string, responses *ResponseSet) string {
	var perspectives []string
	for _, out := range responses.Outputs() {
		label := out.ResponderID
		if r, ok := reg.Get(out.ResponderID); ok {
			label = r.Label()
		}
		perspectives = append(perspectives, fmt.Sprintf("=== %s ===\n%s", label, out.Text))
	}
	var items []string
	for _, item := range plan.WorkItems {
		items = append(items, fmt.Sprintf("• %s: %s", item.Focus, strings.Join(item.Responders, ", ")))
	}
	return fmt.Sprintf("Synthesise for: %q\n\nIntent: %s | Complexity: %s\nSub-queries:\n%s\n\nUser context: %s\n\nCXO Perspectives:\n%s",
		message,
		plan.Intent,
		plan.Complexity,
		strings.Join(items, "\n"),
		orDefault(contextText, noUserContext),
		strings.Join(perspectives, "\n\n"),
	)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
