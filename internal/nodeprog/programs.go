package nodeprog

// RegisterDefaults registers every built-in program against reg. Package
// shard calls this once per shard server at startup; tests that only need
// one program register it directly instead.
func RegisterDefaults(reg *Registry) {
	reg.Register(ReachProgram{})
	reg.Register(DijkstraProgram{})
	reg.Register(ClusteringProgram{})
	reg.Register(EdgeCountProgram{})
}
