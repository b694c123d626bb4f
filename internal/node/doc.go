// Package node wires the RAM ring, flash ring, poster, and any configured
// producers into one supervised task group, in the style of the teacher's
// agent.Agent orchestrator.
package node
