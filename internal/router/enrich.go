package router

import (
	"context"
	"maps"
	"strconv"

	"go.uber.org/zap"

	"github.com/aescanero/dago-chat-router/internal/eval/logic"
	"github.com/aescanero/dago-chat-router/internal/event"
	"github.com/aescanero/dago-chat-router/internal/rules"
)

const candidateSource = "router"

// enrich applies the content changes of rule to out
func (e *Engine) enrich(ctx context.Context, out *event.Envelope, rule *rules.Rule, evalCtx *logic.Context) {
	enr := rule.Enrichments
	if enr == nil {
		return
	}
	data := templateData(rule.Metadata, evalCtx)

	if enr.Message != nil {
		out.Message = &event.Message{Text: e.templates.Interpolate(enr.Message.Text, data)}
	}

	for _, a := range enr.Annotations {
		a.Label = e.templates.Interpolate(a.Label, data)
		a.Value = e.templates.Interpolate(a.Value, data)
		out.Annotations = append(out.Annotations, a)
	}

	if len(enr.Candidates) > 0 {
		rendered := make([]event.Candidate, len(enr.Candidates))
		for i, c := range enr.Candidates {
			c.Text = e.templates.Interpolate(c.Text, data)
			c.Reason = e.templates.Interpolate(c.Reason, data)
			if c.ID == "" {
				c.ID = "cand-" + strconv.Itoa(i)
			}
			if c.Source == "" {
				c.Source = candidateSource
			}
			rendered[i] = c
		}
		if enr.RandomCandidate {
			rendered = []event.Candidate{e.pickCandidate(ctx, out.UserID(), rule.ID, rendered)}
		}
		out.Candidates = append(out.Candidates, rendered...)
	}

	if enr.Egress != nil {
		dest := e.templates.Interpolate(enr.Egress.Destination, data)
		out.Egress = &event.Egress{
			Destination: dest,
			Type:        enr.Egress.Type,
			Metadata:    maps.Clone(enr.Egress.Metadata),
		}
		if dest != "" {
			out.Channel = dest
		}
	}
}

// pickCandidate chooses one candidate at random, avoiding the one last chosen
// for the same user and rule when a state store is configured
func (e *Engine) pickCandidate(ctx context.Context, userID, ruleID string, candidates []event.Candidate) event.Candidate {
	tracked := e.state != nil && userID != ""

	pool := candidates
	if tracked && len(candidates) > 1 {
		last, err := e.state.GetLastCandidateID(ctx, userID, ruleID)
		if err != nil {
			e.logger.Warn("failed to read last candidate",
				zap.String("user_id", userID),
				zap.String("rule_id", ruleID),
				zap.Error(err),
			)
		}
		if last != "" {
			eligible := make([]event.Candidate, 0, len(candidates))
			for _, c := range candidates {
				if c.ID != last {
					eligible = append(eligible, c)
				}
			}
			if len(eligible) > 0 {
				pool = eligible
			}
		}
	}

	picked := pool[e.intn(len(pool))]

	if tracked {
		if err := e.state.UpdateLastCandidateID(ctx, userID, ruleID, picked.ID); err != nil {
			e.logger.Warn("failed to store last candidate",
				zap.String("user_id", userID),
				zap.String("rule_id", ruleID),
				zap.Error(err),
			)
		}
	}
	return picked
}

// templateData merges rule metadata under the evaluation context; context
// keys win
func templateData(metadata map[string]any, evalCtx *logic.Context) map[string]any {
	data := make(map[string]any, len(metadata)+16)
	maps.Copy(data, metadata)
	maps.Copy(data, evalCtx.Data())
	return data
}
