// Package core contains the shared data model of the orchestration layer:
// chat messages, the tool call state lattice, conversation results and the
// serializable session record. Types here are owned by exactly one component
// at a time (the scheduler owns ToolCalls, a turn engine owns its Session)
// and carry no behavior beyond construction, transition helpers and
// serialization.
package core
