package types

const (
	WordSize       = 32      // bytes per stack word
	StackLimit     = 1024    // default maximum stack depth
	PageSize       = 4096    // memory page granularity
	MemoryLimit    = 4 << 20 // default memory cap in bytes
	DefaultGas     = 10_000_000
	DefaultChainID = 1
)

// Checkpoint cadence defaults.
const (
	MinCheckpointInterval = 16
	MaxCheckpointInterval = 4096
	GasPerStepEstimate    = 3 // cheapest common instruction; overestimates the step budget
)
