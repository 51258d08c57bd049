package jamlet

import (
	"github.com/sarchlab/zamlet/cache"
	"github.com/sarchlab/zamlet/mesh"
)

// WitemLookup resolves an incoming jamlet-to-jamlet request against this
// jamlet's local waiting-item state: whether a kinstr has already arrived
// to service (ident, tag), where its payload lives locally, and how to
// record a completed store. The kamlet package supplies the concrete
// implementation backed by its cache table and witem list; jamlet only
// needs this narrow view so the two packages don't have to know about
// each other's internals.
type WitemLookup interface {
	// Resolve reports whether a witem exists for (ident, tag) and, if so,
	// the local SRAM offset and byte count its data occupies, and whether
	// the local slot is currently writable (required for a Store req to
	// succeed, and irrelevant for a Load req which only reads).
	Resolve(ident, tag int) (sramAddr, nBytes int, writable, ok bool)

	// MarkModified records that tag's worth of (ident)'s slot was written
	// by an incoming Store request.
	MarkModified(ident, tag int)
}

// J2JTagSpec describes one segment of a jamlet-to-jamlet transfer this
// jamlet originates, addressed against the peer's matching tag.
type J2JTagSpec struct {
	Tag      int
	LocalOff int // this jamlet's SRAM offset for the tag's data
	PeerOff  int // the peer's SRAM offset for the same tag's data
	NBytes   int
	Mask     uint64
}

type j2jTag struct {
	spec  J2JTagSpec
	state cache.ProtocolState
}

// J2JSession is one jamlet's side of a multi-tag Load or Store shuffle
// with a single peer jamlet, all segments sharing Ident.
type J2JSession struct {
	Ident    int
	Kind     mesh.MessageType // LoadJ2JWordsReq or StoreJ2JWordsReq
	Peer     mesh.Coord
	PeerJInK int // which jamlet within the peer's kamlet services this session

	tags      []j2jTag
	cacheOK   func() bool
	onSegment func(tagIdx int, data []byte) // Load only: apply received data locally
}

// ProtocolStates returns the per-tag state the owning witem's Ready()
// polls. Src and Dst are collapsed to complete together, from this
// jamlet's point of view a full request/response round trip for a tag is
// indistinguishable from the peer having finished its own bookkeeping.
func (s *J2JSession) ProtocolStates() []cache.ProtocolState {
	states := make([]cache.ProtocolState, len(s.tags))
	for i, t := range s.tags {
		states[i] = t.state
	}
	return states
}

func (s *J2JSession) done() bool {
	for _, t := range s.tags {
		if !t.state.Done() {
			return false
		}
	}
	return true
}

type pendingRetry struct {
	ident    int
	tag      int
	kind     mesh.MessageType
	peer     mesh.Coord
	peerJInK int
}

// StartJ2J begins a new outbound session: kind is LoadJ2JWordsReq to pull
// data from peer/peerJInK, or StoreJ2JWordsReq to push it there. cacheOK
// reports whether this jamlet's own slot is currently available to send
// from/into (spec.md §4.3.2: "src sends only when its cache is
// available"). onLoad is invoked once per tag as its response lands (nil
// for Store sessions).
func (j *Jamlet) StartJ2J(ident int, kind mesh.MessageType, peer mesh.Coord, peerJInK int, specs []J2JTagSpec, cacheOK func() bool, onLoad func(tagIdx int, data []byte)) *J2JSession {
	tags := make([]j2jTag, len(specs))
	for i, spec := range specs {
		tags[i] = j2jTag{spec: spec, state: cache.ProtocolState{Src: cache.NeedToSend, Dst: cache.WaitingForRequest}}
	}
	s := &J2JSession{Ident: ident, Kind: kind, Peer: peer, PeerJInK: peerJInK, tags: tags, cacheOK: cacheOK, onSegment: onLoad}
	j.sessions[ident] = s
	return s
}

// driveSessions sends every NeedToSend tag of every session whose cache
// is currently available, then drops completed sessions from the active
// set.
func (j *Jamlet) driveSessions() {
	for ident, s := range j.sessions {
		if s.cacheOK != nil && !s.cacheOK() {
			continue
		}
		for i := range s.tags {
			t := &s.tags[i]
			if t.state.Src != cache.NeedToSend {
				continue
			}
			var body []uint64
			if s.Kind == mesh.StoreJ2JWordsReq {
				body = mesh.BytesToWords(j.sram.ReadBytes(t.spec.LocalOff, t.spec.NBytes), j.wordBytes)
			}
			j.send(mesh.Packet{
				Header: mesh.Header{
					Type: s.Kind, Ident: s.Ident, Tag: t.spec.Tag, Mask: t.spec.Mask,
					SRAMAddr: uint64(t.spec.PeerOff), NBytes: t.spec.NBytes,
					ReqJInK: j.jInKIndex, SvcJInK: s.PeerJInK,
				},
				Body: body,
				Dst:  s.Peer,
			})
			t.state.Src = cache.WaitingForResponse
		}
		if s.done() {
			delete(j.sessions, ident)
		}
	}
}

// HandleJ2JResp applies an incoming LOAD/STORE_J2J_WORDS_RESP to the
// session and tag it answers. The owning kamlet routes pkt here after
// resolving pkt.ReqJInK to this jamlet.
func (j *Jamlet) HandleJ2JResp(pkt mesh.Packet) {
	s, ok := j.sessions[pkt.Ident]
	if !ok {
		return
	}
	for i := range s.tags {
		t := &s.tags[i]
		if t.spec.Tag != pkt.Tag || t.state.Src != cache.WaitingForResponse {
			continue
		}
		if s.Kind == mesh.LoadJ2JWordsReq && s.onSegment != nil {
			s.onSegment(i, mesh.WordsToBytes(pkt.Body, j.wordBytes))
		}
		t.state.Src = cache.SrcComplete
		t.state.Dst = cache.DstComplete
		return
	}
}

// HandleJ2JDropOrRetry resets the named tag to NEED_TO_SEND so
// driveSessions resends it next cycle, per spec.md's J2J state table
// (both DROP and RETRY return the src side to NEED_TO_SEND). The owning
// kamlet routes pkt here after resolving pkt.ReqJInK to this jamlet.
func (j *Jamlet) HandleJ2JDropOrRetry(pkt mesh.Packet) {
	s, ok := j.sessions[pkt.Ident]
	if !ok {
		return
	}
	for i := range s.tags {
		t := &s.tags[i]
		if t.spec.Tag == pkt.Tag && t.state.Src == cache.WaitingForResponse {
			t.state.Src = cache.NeedToSend
			t.state.Dst = cache.NeedToAskForResend
			return
		}
	}
}

// respType/dropType/retryType map a request MessageType to its matching
// response family.
func respType(kind mesh.MessageType) mesh.MessageType {
	if kind == mesh.LoadJ2JWordsReq {
		return mesh.LoadJ2JWordsResp
	}
	return mesh.StoreJ2JWordsResp
}

func dropType(kind mesh.MessageType) mesh.MessageType {
	if kind == mesh.LoadJ2JWordsReq {
		return mesh.LoadJ2JWordsDrop
	}
	return mesh.StoreJ2JWordsDrop
}

func retryType(kind mesh.MessageType) mesh.MessageType {
	if kind == mesh.LoadJ2JWordsReq {
		return mesh.LoadJ2JWordsRetry
	}
	return mesh.StoreJ2JWordsRetry
}

// HandleJ2JReq services an incoming LOAD/STORE_J2J_WORDS_REQ as the dst
// side: if WitemLookup can't resolve the tag yet, or (for a Store) the
// slot isn't writable, it drops and remembers to retry once ready. The
// owning kamlet routes pkt here after resolving pkt.SvcJInK to this
// jamlet.
func (j *Jamlet) HandleJ2JReq(pkt mesh.Packet) {
	if j.lookup == nil {
		j.sendDrop(pkt)
		return
	}
	sramAddr, _, writable, ok := j.lookup.Resolve(pkt.Ident, pkt.Tag)
	if !ok || (pkt.Type == mesh.StoreJ2JWordsReq && !writable) {
		j.sendDrop(pkt)
		return
	}

	switch pkt.Type {
	case mesh.LoadJ2JWordsReq:
		data := j.sram.ReadBytes(sramAddr, pkt.NBytes)
		j.send(mesh.Packet{
			Header: mesh.Header{
				Type: respType(pkt.Type), Ident: pkt.Ident, Tag: pkt.Tag,
				ReqJInK: pkt.ReqJInK, SvcJInK: j.jInKIndex,
			},
			Body: mesh.BytesToWords(data, j.wordBytes),
			Dst:  pkt.Src,
		})
	case mesh.StoreJ2JWordsReq:
		data := mesh.WordsToBytes(pkt.Body, j.wordBytes)
		j.sram.WriteBytesMasked(sramAddr, data, pkt.Mask)
		j.lookup.MarkModified(pkt.Ident, pkt.Tag)
		j.send(mesh.Packet{
			Header: mesh.Header{
				Type: respType(pkt.Type), Ident: pkt.Ident, Tag: pkt.Tag,
				ReqJInK: pkt.ReqJInK, SvcJInK: j.jInKIndex,
			},
			Dst: pkt.Src,
		})
	}
}

func (j *Jamlet) sendDrop(pkt mesh.Packet) {
	j.send(mesh.Packet{
		Header: mesh.Header{
			Type: dropType(pkt.Type), Ident: pkt.Ident, Tag: pkt.Tag,
			ReqJInK: pkt.ReqJInK, SvcJInK: j.jInKIndex,
		},
		Dst: pkt.Src,
	})
	j.pendingRetries = append(j.pendingRetries, pendingRetry{
		ident: pkt.Ident, tag: pkt.Tag, kind: pkt.Type, peer: pkt.Src, peerJInK: pkt.ReqJInK,
	})
}

// driveRetries re-checks every previously-dropped (ident, tag) and sends
// J2J_RETRY to the original requester once WitemLookup can resolve it.
func (j *Jamlet) driveRetries() {
	if j.lookup == nil || len(j.pendingRetries) == 0 {
		return
	}
	keep := j.pendingRetries[:0]
	for _, pr := range j.pendingRetries {
		_, _, _, ok := j.lookup.Resolve(pr.ident, pr.tag)
		if !ok {
			keep = append(keep, pr)
			continue
		}
		j.send(mesh.Packet{
			Header: mesh.Header{
				Type: retryType(pr.kind), Ident: pr.ident, Tag: pr.tag,
				ReqJInK: pr.peerJInK, SvcJInK: j.jInKIndex,
			},
			Dst: pr.peer,
		})
	}
	j.pendingRetries = keep
}
