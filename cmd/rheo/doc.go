// Command rheo runs agentic workflows from the command line.
//
// Usage:
//
//	rheo run [--workflow wf.yaml] [--thread id] [--timeout 30s] "task"
//	rheo threads list|show|delete [id]
//	rheo ask --intent billing "question"
//	rheo migrate up|down|reset|status|version|goto N|force N
//	rheo version
//
// Configuration is read from --config (YAML) with RHEO_* environment
// overrides. Without --workflow, run executes a built-in plan/review
// workflow whose agents echo their prompts.
package main
