package lamlet

import "github.com/sarchlab/zamlet/addr"

// SectionInfo is one contiguous run of an access that is guaranteed to
// stay on one side of the VPU/scalar boundary, within a single page and a
// single lamlet-wide cache line. IsPartialElement marks a run that is less
// than one whole element, because the element it belongs to straddles a
// page or memory-type boundary.
type SectionInfo struct {
	IsVPU            bool
	IsPartialElement bool
	StartIndex       int
	StartAddress     uint64 // byte address
	EndAddress       uint64 // byte address, one past the last byte
}

type lump struct {
	isVPU      bool
	startIndex int
	startAddr  uint64
	endAddr    uint64
}

// GetMemorySplit decomposes an n_elements-element access starting at
// element firstIndex, elementWidth bits wide, into SectionInfo runs: first
// by page (VPU vs scalar) and lamlet-wide cache line boundary, then, if the
// access isn't element-aligned to its own start address, by splitting any
// lump that begins or ends mid-element into a partial section.
//
// Direct port of lamlet.py's Lamlet.get_memory_split / unordered.py's
// free-function twin (the two were identical; this module has one).
func (l *Lamlet) GetMemorySplit(gAddr addr.GlobalAddress, elementWidth, nElements, firstIndex int) []SectionInfo {
	startIndex := firstIndex
	startAddr := gAddr.Addr()
	var lumps []lump

	elementOffsetBits := (startAddr * 8) % uint64(elementWidth)
	eb := uint64(elementWidth / 8)

	lCacheLineBytes := uint64(l.params.CacheLineBytes * l.params.KCount())

	for startIndex < nElements {
		currentElementAddr := gAddr.Addr() + uint64(startIndex)*eb
		pageAddr := (startAddr / uint64(l.params.PageBytes)) * uint64(l.params.PageBytes)
		pageGlobal := addr.NewGlobalAddress(l.params, pageAddr)
		info, err := l.tlb.GetPageInfo(pageGlobal)
		isVPU := false
		if err == nil {
			isVPU = info.Local.IsVPU()
		}
		remainingElements := nElements - startIndex

		cacheLineBoundary := (startAddr/lCacheLineBytes + 1) * lCacheLineBytes
		pageBoundary := pageAddr + uint64(l.params.PageBytes)
		nextBoundary := cacheLineBoundary
		if pageBoundary < nextBoundary {
			nextBoundary = pageBoundary
		}

		endAddr := currentElementAddr + uint64(remainingElements)*eb
		if nextBoundary < endAddr {
			endAddr = nextBoundary
		}

		lumps = append(lumps, lump{isVPU: isVPU, startIndex: startIndex, startAddr: startAddr, endAddr: endAddr})
		startIndex = int((endAddr - gAddr.Addr()) / eb)
		startAddr = endAddr
	}

	if elementOffsetBits == 0 {
		sections := make([]SectionInfo, len(lumps))
		for i, lp := range lumps {
			sections[i] = SectionInfo{IsVPU: lp.isVPU, StartIndex: lp.startIndex, StartAddress: lp.startAddr, EndAddress: lp.endAddr}
		}
		return sections
	}

	var sections []SectionInfo
	nextIndex := firstIndex
	for _, lp := range lumps {
		startOffset := (lp.startAddr - gAddr.Addr()) % eb
		startWholeAddr := lp.startAddr
		if startOffset != 0 {
			startWholeAddr = lp.startAddr + (eb - startOffset)
			sections = append(sections, SectionInfo{
				IsVPU: lp.isVPU, IsPartialElement: true,
				StartIndex: nextIndex, StartAddress: lp.startAddr, EndAddress: startWholeAddr,
			})
			nextIndex++
		}

		endOffset := (lp.endAddr - gAddr.Addr()) % eb
		endWholeAddr := lp.endAddr
		if endOffset != 0 {
			endWholeAddr = lp.endAddr - endOffset
		}

		if endWholeAddr > startWholeAddr {
			sections = append(sections, SectionInfo{
				IsVPU: lp.isVPU, StartIndex: nextIndex, StartAddress: startWholeAddr, EndAddress: endWholeAddr,
			})
			nextIndex += int((endWholeAddr - startWholeAddr) / eb)
		}
		if lp.endAddr != endWholeAddr {
			sections = append(sections, SectionInfo{
				IsVPU: lp.isVPU, IsPartialElement: true,
				StartIndex: nextIndex, StartAddress: endWholeAddr, EndAddress: lp.endAddr,
			})
		}
	}
	return sections
}
