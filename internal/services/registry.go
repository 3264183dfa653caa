package services

// Registry wires every service over one set of dependencies.
type Registry struct {
	Users        *UserService
	Wallets      *WalletService
	Jobs         *JobService
	Accounting   *AccountingService
	Applications *ApplicationService
	Proofs       *ProofService
	Disputes     *DisputeService
	Sweeper      *Sweeper
}

// NewRegistry builds the services. A nil lease serializes sweeps within the
// process only.
func NewRegistry(d Deps, lease Lease) *Registry {
	wallets := NewWalletService(d)
	jobs := NewJobService(d, wallets)
	return &Registry{
		Users:        NewUserService(d),
		Wallets:      wallets,
		Jobs:         jobs,
		Accounting:   NewAccountingService(d, jobs, wallets),
		Applications: NewApplicationService(d),
		Proofs:       NewProofService(d),
		Disputes:     NewDisputeService(d, jobs),
		Sweeper:      NewSweeper(d, jobs, lease),
	}
}
