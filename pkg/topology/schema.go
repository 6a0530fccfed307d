package topology

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// schemaSource is the structural schema of a topology document. Definitions
// are closed, so unknown keys are rejected alongside wrong types.
const schemaSource = `
#Edge: {
	event?:     string & !=""
	target:     string & !=""
	condition?: string
}

#Node: {
	role:         string & =~"^[a-z0-9][a-z0-9_-]*$"
	job?:         string & =~"^[a-z0-9][a-z0-9_-]*$"
	description?: string
	schedule:     string & !=""
	daily_cap?:   int & >=0
	timeout?:     string
	capability?:  "read-only" | "write" | "multi-job"
	dispatch?: [...#Edge & {event: string & !=""}]
}

#Event: {
	name:            string & =~"^[a-z0-9][a-z0-9_.-]*$"
	description?:    string
	status?:         "active" | "stub" | "external"
	producer?:       string & !=""
	payload_schema?: {...}
	routes?: [...#Edge]
}

#Topology: {
	constants?: {
		chain_depth_max?:   int & >0
		review_rounds_max?: int & >0
	}
	events?: [...#Event]
	nodes: [#Node, ...#Node]
}
`

// checkSchema unifies a decoded YAML document with #Topology and reports
// every structural violation.
func checkSchema(doc any) []Problem {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return []Problem{{Code: CodeSchema, Message: fmt.Sprintf("compile schema: %v", err)}}
	}
	def := schema.LookupPath(cue.ParsePath("#Topology"))

	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return []Problem{{Code: CodeSchema, Message: fmt.Sprintf("encode document: %v", err)}}
	}

	err := def.Unify(value).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	var problems []Problem
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		problems = append(problems, Problem{
			Code:    CodeSchema,
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return problems
}
