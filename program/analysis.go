package program

// ProgramStats contains statistics about a program
type ProgramStats struct {
	CodeSize           int
	InstructionCount   int
	BasicBlockCount    int
	JumpDestCount      int
	OpcodeDistribution map[OpCode]int
}

// Analyze returns instruction, basic block and opcode statistics.
func (p *Program) Analyze() *ProgramStats {
	stats := &ProgramStats{
		CodeSize:           len(p.Code),
		OpcodeDistribution: make(map[OpCode]int),
	}
	for i := 0; i < len(p.K); i++ {
		if p.K[i]&kInstruction == 0 {
			continue
		}
		stats.InstructionCount++
		stats.OpcodeDistribution[OpCode(p.Code[i])]++
		if p.K[i]&kBlockStart != 0 {
			stats.BasicBlockCount++
		}
		if p.K[i]&kJumpDest != 0 {
			stats.JumpDestCount++
		}
	}
	return stats
}

// CountInstructions returns the total number of instructions in the program
func (p *Program) CountInstructions() int {
	return len(p.Instructions)
}

// GetBasicBlockBoundaries returns the pc positions where each basic block starts
func (p *Program) GetBasicBlockBoundaries() []uint64 {
	var boundaries []uint64
	for i := 0; i < len(p.K); i++ {
		if p.K[i]&kBlockStart != 0 {
			boundaries = append(boundaries, uint64(i))
		}
	}
	return boundaries
}

// JumpDests lists every valid jump destination.
func (p *Program) JumpDests() []uint64 {
	var dests []uint64
	for i := 0; i < len(p.K); i++ {
		if p.K[i]&kJumpDest != 0 {
			dests = append(dests, uint64(i))
		}
	}
	return dests
}
