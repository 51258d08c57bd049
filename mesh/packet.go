// Package mesh models the on-chip interconnect: per-channel FIFO links
// between routers forwarding packets toward a destination (x, y), with
// double-buffered commit semantics instead of a cycle-accurate credit
// arbiter (the router's internal arbitration is explicitly an external
// collaborator, not part of this subsystem).
package mesh

import "fmt"

// MessageType discriminates the packet variants carried by the mesh, per
// the wire format's header subtypes.
type MessageType int

const (
	Instructions MessageType = iota

	ReadLine
	WriteLine
	WriteLineReadLine

	ReadLineResp
	WriteLineResp
	WriteLineReadLineResp
	WriteLineReadLineDrop

	LoadJ2JWordsReq
	StoreJ2JWordsReq

	LoadJ2JWordsResp
	StoreJ2JWordsResp
	LoadJ2JWordsDrop
	StoreJ2JWordsDrop
	LoadJ2JWordsRetry
	StoreJ2JWordsRetry

	ReadMemWordReq
	WriteMemWordReq

	ReadMemWordResp
	WriteMemWordResp
	WriteMemWordDrop
	WriteMemWordRetry
	ReadByteResp
	LoadIndexedElementResp
	StoreIndexedElementResp

	SyncBus
)

func (mt MessageType) String() string {
	switch mt {
	case Instructions:
		return "INSTRUCTIONS"
	case ReadLine:
		return "READ_LINE"
	case WriteLine:
		return "WRITE_LINE"
	case WriteLineReadLine:
		return "WRITE_LINE_READ_LINE"
	case ReadLineResp:
		return "READ_LINE_RESP"
	case WriteLineResp:
		return "WRITE_LINE_RESP"
	case WriteLineReadLineResp:
		return "WRITE_LINE_READ_LINE_RESP"
	case WriteLineReadLineDrop:
		return "WRITE_LINE_READ_LINE_DROP"
	case LoadJ2JWordsReq:
		return "LOAD_J2J_WORDS_REQ"
	case StoreJ2JWordsReq:
		return "STORE_J2J_WORDS_REQ"
	case LoadJ2JWordsResp:
		return "LOAD_J2J_WORDS_RESP"
	case StoreJ2JWordsResp:
		return "STORE_J2J_WORDS_RESP"
	case LoadJ2JWordsDrop:
		return "LOAD_J2J_WORDS_DROP"
	case StoreJ2JWordsDrop:
		return "STORE_J2J_WORDS_DROP"
	case LoadJ2JWordsRetry:
		return "LOAD_J2J_WORDS_RETRY"
	case StoreJ2JWordsRetry:
		return "STORE_J2J_WORDS_RETRY"
	case ReadMemWordReq:
		return "READ_MEM_WORD_REQ"
	case WriteMemWordReq:
		return "WRITE_MEM_WORD_REQ"
	case ReadMemWordResp:
		return "READ_MEM_WORD_RESP"
	case WriteMemWordResp:
		return "WRITE_MEM_WORD_RESP"
	case WriteMemWordDrop:
		return "WRITE_MEM_WORD_DROP"
	case WriteMemWordRetry:
		return "WRITE_MEM_WORD_RETRY"
	case ReadByteResp:
		return "READ_BYTE_RESP"
	case LoadIndexedElementResp:
		return "LOAD_INDEXED_ELEMENT_RESP"
	case StoreIndexedElementResp:
		return "STORE_INDEXED_ELEMENT_RESP"
	case SyncBus:
		return "SYNC_BUS"
	default:
		return fmt.Sprintf("MessageType(%d)", int(mt))
	}
}

// channelOf buckets every MessageType into one of 8 channels, grouped so
// that a request class and its matching response class never share a
// channel — two routers exchanging requests on one channel and responses
// on another cannot deadlock each other waiting on buffer space.
var channelOf = map[MessageType]int{
	Instructions: 0,

	ReadLine:          1,
	WriteLine:         1,
	WriteLineReadLine: 1,

	ReadLineResp:          2,
	WriteLineResp:         2,
	WriteLineReadLineResp: 2,
	WriteLineReadLineDrop: 2,

	LoadJ2JWordsReq:  3,
	StoreJ2JWordsReq: 3,

	LoadJ2JWordsResp:   4,
	StoreJ2JWordsResp:  4,
	LoadJ2JWordsDrop:   4,
	StoreJ2JWordsDrop:  4,
	LoadJ2JWordsRetry:  4,
	StoreJ2JWordsRetry: 4,

	ReadMemWordReq:  5,
	WriteMemWordReq: 5,

	ReadMemWordResp:         6,
	WriteMemWordResp:        6,
	WriteMemWordDrop:        6,
	WriteMemWordRetry:       6,
	ReadByteResp:            6,
	LoadIndexedElementResp:  6,
	StoreIndexedElementResp: 6,

	SyncBus: 7,
}

// Channel returns the router channel mt is carried on. Panics on an
// unregistered MessageType, a programmer error (every variant above is
// registered at init).
func Channel(mt MessageType) int {
	c, ok := channelOf[mt]
	if !ok {
		panic(fmt.Sprintf("mesh: no channel registered for %v", mt))
	}
	return c
}

// NumChannels is the number of distinct channels the mapping above uses.
// params.LamletParams.NChannels should be at least this.
const NumChannels = 8

// Coord is a router/endpoint grid position.
type Coord struct {
	X, Y int
}

// Header is the common packet header: discriminator, word length including
// the header itself, and the per-variant extra fields spec.md's wire
// format table lists. Only the fields relevant to Type are meaningful for
// any given packet; this mirrors a tagged union via a flat struct rather
// than an interface hierarchy, matching the kinstr/witem dispatch style
// used elsewhere in this module.
type Header struct {
	Type   MessageType
	Length int // words, including the header

	Address   uint64 // DRAM address: the line/word this request targets
	SRAMAddr  uint64 // jamlet-local SRAM offset a response's payload lands at
	WriteAddr uint64 // WRITE_LINE_READ_LINE: DRAM address to write
	ReadAddr  uint64 // WRITE_LINE_READ_LINE: DRAM address to read back
	Ident     int
	SendType  int
	Tag       int
	Mask      uint64
	DstByte   int
	NBytes    int
	ElemIndex int
	JInKIndex int // which jamlet within the kamlet this shard/shard-request belongs to

	// ReqJInK/SvcJInK disambiguate a jamlet-to-jamlet Load/Store packet
	// beyond its Src/Dst router (kamlet), which every jamlet in that
	// kamlet shares: ReqJInK is the requesting jamlet's index within its
	// kamlet, SvcJInK the servicing jamlet's index within the dst kamlet.
	// A request is addressed to SvcJInK and answers are routed back to
	// ReqJInK; both fields are echoed unchanged on the reply.
	ReqJInK int
	SvcJInK int

	Masked    bool
	Fault     bool
	Value     uint64
	SyncIdent int
}

// Packet is a header plus its body words, addressed to Dst. Src is the
// originating endpoint's position, carried so a responder (a memlet
// replying to a kamlet's cache-line request, for instance) knows where to
// address its response without separately tracking the requester.
type Packet struct {
	Header
	Body []uint64
	Src  Coord
	Dst  Coord
}

// Channel returns the channel this packet travels on.
func (p Packet) Channel() int { return Channel(p.Type) }
