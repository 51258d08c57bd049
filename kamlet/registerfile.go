// Package kamlet implements the per-kamlet register file, cache table
// ownership, and j2j witem lookup that ties a kamlet's jamlets to its
// cache table, per spec.md §3.5 and §4.2.
package kamlet

import "fmt"

// vregState is one vreg's hazard-tracking state: at most one outstanding
// writer, any number of outstanding readers, each identified by the
// witem/kinstr holding the token.
type vregState struct {
	writeToken *int
	readTokens []int
}

// KamletRegisterFile tracks, per vreg, the write/read tokens a kinstr
// must hold before it may execute against that vreg (spec.md §3.5). A
// kinstr that cannot claim its tokens yet is the caller's responsibility
// to park in the waiting-item table; this type only arbitrates token
// ownership.
type KamletRegisterFile struct {
	regs []vregState
}

// NewKamletRegisterFile returns a register file for nVRegs vregs, all
// initially free.
func NewKamletRegisterFile(nVRegs int) *KamletRegisterFile {
	return &KamletRegisterFile{regs: make([]vregState, nVRegs)}
}

// CanClaimWrite reports whether ident may take the write token for v: the
// vreg must have no writer and no readers outstanding.
func (rf *KamletRegisterFile) CanClaimWrite(v int) bool {
	s := &rf.regs[v]
	return s.writeToken == nil && len(s.readTokens) == 0
}

// ClaimWrite assigns ident as v's writer. Callers must check
// CanClaimWrite first.
func (rf *KamletRegisterFile) ClaimWrite(v, ident int) error {
	s := &rf.regs[v]
	if !rf.CanClaimWrite(v) {
		return fmt.Errorf("kamlet: vreg %d already held (writer=%v readers=%v)", v, s.writeToken, s.readTokens)
	}
	id := ident
	s.writeToken = &id
	return nil
}

// ReleaseWrite drops ident's write token on v, if it holds one.
func (rf *KamletRegisterFile) ReleaseWrite(v, ident int) {
	s := &rf.regs[v]
	if s.writeToken != nil && *s.writeToken == ident {
		s.writeToken = nil
	}
}

// CanClaimRead reports whether ident may take a read token for v: the
// vreg must have no writer outstanding (multiple readers may overlap).
func (rf *KamletRegisterFile) CanClaimRead(v int) bool {
	return rf.regs[v].writeToken == nil
}

// ClaimRead adds ident to v's reader set. Callers must check
// CanClaimRead first.
func (rf *KamletRegisterFile) ClaimRead(v, ident int) error {
	if !rf.CanClaimRead(v) {
		return fmt.Errorf("kamlet: vreg %d has an outstanding writer", v)
	}
	rf.regs[v].readTokens = append(rf.regs[v].readTokens, ident)
	return nil
}

// ReleaseRead removes one instance of ident from v's reader set.
func (rf *KamletRegisterFile) ReleaseRead(v, ident int) {
	s := &rf.regs[v]
	for i, id := range s.readTokens {
		if id == ident {
			s.readTokens = append(s.readTokens[:i], s.readTokens[i+1:]...)
			return
		}
	}
}

// BlockingTokenHolder returns the ident currently blocking a would-be
// writer of v (its writer, or arbitrarily one of its readers), or
// ok=false if v is free. Used to build the wait-dependency a parked
// kinstr induces on whichever witem holds the conflicting token.
func (rf *KamletRegisterFile) BlockingTokenHolder(v int) (int, bool) {
	s := &rf.regs[v]
	if s.writeToken != nil {
		return *s.writeToken, true
	}
	if len(s.readTokens) > 0 {
		return s.readTokens[0], true
	}
	return 0, false
}
