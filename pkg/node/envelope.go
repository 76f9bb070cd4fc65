package node

import (
	"fmt"

	"github.com/quorumkv/quorumkv/pkg/conv"
	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
)

// parsedEnvelope is the decoded form of a Command::Apply / Command::Query
// envelope, with the request payload resolved to a jsonvalue.Value.
type parsedEnvelope struct {
	Type       string
	ProposalID *conv.ProposalID
	Request    jsonvalue.Value
}

func parseEnvelope(value jsonvalue.Value) (parsedEnvelope, error) {
	env, err := conv.ParseCommandEnvelope(value)
	if err != nil {
		return parsedEnvelope{}, err
	}
	out := parsedEnvelope{Type: env.Type, ProposalID: env.ProposalID}
	if env.Command != nil {
		req, err := jsonvalue.Raw(env.Command)
		if err != nil {
			return parsedEnvelope{}, fmt.Errorf("parse command envelope request: %w", err)
		}
		out.Request = req
	}
	return out, nil
}
