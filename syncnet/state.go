package syncnet

// region is one of the eight named sub-buckets a SyncState tracks:
// 4 quadrants, 2 column halves, 2 row halves.
type region struct {
	kind string // "quadrant", "column", or "row"
	name string
}

var (
	regionNE = region{"quadrant", "NE"}
	regionNW = region{"quadrant", "NW"}
	regionSE = region{"quadrant", "SE"}
	regionSW = region{"quadrant", "SW"}
	regionN  = region{"column", "N"}
	regionS  = region{"column", "S"}
	regionE  = region{"row", "E"}
	regionW  = region{"row", "W"}
)

// sendRequirements lists, for each send Direction, the regions that must
// already be synced before a packet may go out that way. Cardinal
// directions need only the opposite column/row; diagonals need the
// opposite quadrant plus the two adjacent column/row halves, so a
// diagonal packet never goes out before the cardinal packets it
// logically subsumes. Grounded on SEND_REQUIREMENTS in synchronization.py.
var sendRequirements = map[Direction][]region{
	N: {regionS},
	S: {regionN},
	E: {regionW},
	W: {regionE},

	NE: {regionSW, regionS, regionW},
	NW: {regionSE, regionS, regionE},
	SE: {regionNW, regionN, regionW},
	SW: {regionNE, regionN, regionE},
}

// sendRequirementsOrigin overrides sendRequirements for kamlet (0,0),
// which also carries the lamlet as its N neighbor: every packet it sends
// must additionally account for the lamlet-ward link, so that whatever
// the lamlet eventually receives summarizes the whole grid, and so that
// anything it sends away from the lamlet waits for the lamlet's own
// report to arrive first. Grounded on SEND_REQUIREMENTS_ORIGIN.
var sendRequirementsOrigin = map[Direction][]region{
	N: {regionS, regionSE, regionE},
	S: {regionN},
	E: {regionW, regionN},
	W: {regionE},

	NE: {regionSW, regionS, regionW},
	NW: {regionSE, regionS, regionE},
	SE: {regionNW, regionN, regionW},
	SW: {regionNE, regionN, regionE},
}

// syncState tracks one sync_ident's progress at one Synchronizer.
type syncState struct {
	ident int

	localSeen  bool
	localValue *int // nil means no value contributed

	quadrantSynced map[string]bool
	columnSynced   map[string]bool
	rowSynced      map[string]bool

	quadrantValue map[string]*int
	columnValue   map[string]*int
	rowValue      map[string]*int

	sentDirections map[Direction]bool
	completed      bool
}

func newSyncState(ident int) *syncState {
	return &syncState{
		ident:          ident,
		quadrantSynced: map[string]bool{"NE": false, "NW": false, "SE": false, "SW": false},
		columnSynced:   map[string]bool{"N": false, "S": false},
		rowSynced:      map[string]bool{"E": false, "W": false},
		quadrantValue:  map[string]*int{"NE": nil, "NW": nil, "SE": nil, "SW": nil},
		columnValue:    map[string]*int{"N": nil, "S": nil},
		rowValue:       map[string]*int{"E": nil, "W": nil},
		sentDirections: make(map[Direction]bool),
	}
}

// satisfied reports whether every region in reqs is already synced.
func (s *syncState) satisfied(reqs []region) bool {
	for _, r := range reqs {
		switch r.kind {
		case "quadrant":
			if !s.quadrantSynced[r.name] {
				return false
			}
		case "column":
			if !s.columnSynced[r.name] {
				return false
			}
		case "row":
			if !s.rowSynced[r.name] {
				return false
			}
		}
	}
	return true
}

// minOver folds s.localValue and every region named in reqs into a
// minimum, ignoring nil contributions. Returns nil if nothing
// contributed a value.
func (s *syncState) minOver(reqs []region) *int {
	var best *int
	consider := func(v *int) {
		if v == nil {
			return
		}
		if best == nil || *v < *best {
			cp := *v
			best = &cp
		}
	}
	consider(s.localValue)
	for _, r := range reqs {
		switch r.kind {
		case "quadrant":
			consider(s.quadrantValue[r.name])
		case "column":
			consider(s.columnValue[r.name])
		case "row":
			consider(s.rowValue[r.name])
		}
	}
	return best
}

// minOverAll is minOver across every region this state tracks, used for
// the publicly-visible GetMinValue (the full reduction across the grid,
// not just what one direction's send needs).
func (s *syncState) minOverAll() *int {
	all := []region{regionNE, regionNW, regionSE, regionSW, regionN, regionS, regionE, regionW}
	return s.minOver(all)
}

func (s *syncState) markRegionSynced(d Direction, value *int) {
	switch {
	case d.isQuadrant():
		name := d.String()
		s.quadrantSynced[name] = true
		mergeMin(s.quadrantValue, name, value)
	case d.isColumn():
		name := d.String()
		s.columnSynced[name] = true
		mergeMin(s.columnValue, name, value)
	case d.isRow():
		name := d.String()
		s.rowSynced[name] = true
		mergeMin(s.rowValue, name, value)
	}
}

func mergeMin(m map[string]*int, name string, value *int) {
	if value == nil {
		return
	}
	if m[name] == nil {
		cp := *value
		m[name] = &cp
		return
	}
	if *value < *m[name] {
		*m[name] = *value
	}
}
