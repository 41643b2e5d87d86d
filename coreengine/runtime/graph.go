package runtime

import (
	"strings"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
)

// EndNode is the terminal node name in graph exports.
const EndNode = "END"

// Edge is a transition of the state machine.
type Edge struct {
	From  string
	To    string
	Label string
}

// Nodes returns the graph nodes in pipeline order, ending with EndNode.
func Nodes() []string {
	stages := envelope.PipelineStages()
	nodes := make([]string, 0, len(stages)+1)
	for _, s := range stages {
		nodes = append(nodes, string(s))
	}
	return append(nodes, EndNode)
}

// Edges returns every transition Next can take.
func Edges() []Edge {
	return []Edge{
		{From: string(envelope.StageIngest), To: string(envelope.StageGate)},
		{From: string(envelope.StageGate), To: string(envelope.StageContext)},
		{From: string(envelope.StageContext), To: string(envelope.StagePlan)},
		{From: string(envelope.StagePlan), To: string(envelope.StageExecute)},
		{From: string(envelope.StageExecute), To: string(envelope.StageVerify)},
		{From: string(envelope.StageVerify), To: string(envelope.StageReport)},
		{From: string(envelope.StageVerify), To: string(envelope.StagePlan), Label: "retry"},
		{From: string(envelope.StageReport), To: EndNode},
	}
}

// Mermaid renders the graph as a mermaid flowchart, newline terminated.
func Mermaid() string {
	var b strings.Builder
	b.WriteString("flowchart LR\n")
	for _, n := range Nodes() {
		safe := strings.ReplaceAll(n, `"`, "")
		b.WriteString("  " + safe + `["` + safe + `"]` + "\n")
	}
	for _, e := range Edges() {
		if e.Label != "" {
			b.WriteString("  " + e.From + " -->|" + e.Label + "| " + e.To + "\n")
			continue
		}
		b.WriteString("  " + e.From + " --> " + e.To + "\n")
	}
	return b.String()
}
