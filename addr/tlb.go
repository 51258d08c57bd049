package addr

import (
	"fmt"

	"github.com/sarchlab/zamlet/params"
)

// PageInfo is the TLB's record for one mapped page: the GlobalAddress it
// was mapped at, where it physically lives (VPU or scalar local space), a
// freshness bit per cache line in the page, and permission flags.
type PageInfo struct {
	Global     GlobalAddress
	Local      LocalAddress
	Fresh      []bool
	Readable   bool
	Writable   bool
}

// LocalAddress is a physical address in one of the two local address
// spaces (VPU or scalar), tagged with the MemoryType and Ordering it was
// allocated with.
type LocalAddress struct {
	MemoryType MemoryType
	BitAddr    int
	Ordering   Ordering
}

func (l LocalAddress) Addr() int { return l.BitAddr / 8 }
func (l LocalAddress) IsVPU() bool { return l.MemoryType == VPU }

// TLB maps page-granular GlobalAddresses to PageInfo, with independent bump
// allocators and free lists for the VPU and scalar local address spaces.
type TLB struct {
	params params.LamletParams

	pages map[uint64]*PageInfo // keyed by GlobalAddress page-aligned addr

	vpuPages            map[uint64]*PageInfo // keyed by VPU local addr
	vpuFreedPages       []uint64
	vpuLowestNeverUsed  uint64

	scalarPages           map[uint64]*PageInfo // keyed by scalar local addr
	scalarFreedPages      []uint64
	scalarLowestNeverUsed uint64
}

// NewTLB creates an empty TLB for the given params.
func NewTLB(p params.LamletParams) *TLB {
	return &TLB{
		params:       p,
		pages:        make(map[uint64]*PageInfo),
		vpuPages:     make(map[uint64]*PageInfo),
		scalarPages:  make(map[uint64]*PageInfo),
	}
}

func (t *TLB) getLowestFreePage(mt MemoryType) (uint64, error) {
	pageBytes := uint64(t.params.PageBytes)
	if mt == VPU {
		if len(t.vpuFreedPages) > 0 {
			page := t.vpuFreedPages[0]
			t.vpuFreedPages = t.vpuFreedPages[1:]
			return page, nil
		}
		page := t.vpuLowestNeverUsed
		next := page + pageBytes
		vpuBytes := uint64(t.params.KCount()) * t.params.KamletMemoryBytes
		if next > vpuBytes {
			return 0, fmt.Errorf("addr: out of VPU memory: requested page at 0x%x, only 0x%x bytes available", page, vpuBytes)
		}
		t.vpuLowestNeverUsed = next
		return page, nil
	}

	if len(t.scalarFreedPages) > 0 {
		page := t.scalarFreedPages[0]
		t.scalarFreedPages = t.scalarFreedPages[1:]
		return page, nil
	}
	page := t.scalarLowestNeverUsed
	next := page + pageBytes
	if next > t.params.ScalarMemoryBytes {
		return 0, fmt.Errorf("addr: out of scalar memory: requested page at 0x%x, only 0x%x bytes available", page, t.params.ScalarMemoryBytes)
	}
	t.scalarLowestNeverUsed = next
	return page, nil
}

// AllocateMemory maps size bytes starting at address into the TLB, backed
// by fresh pages in the given memory_type's local space. size must be a
// whole number of pages.
func (t *TLB) AllocateMemory(address GlobalAddress, size int, mt MemoryType, ordering Ordering, readable, writable bool) error {
	pageBytes := t.params.PageBytes
	if size%pageBytes != 0 {
		return fmt.Errorf("addr: AllocateMemory size %d is not a multiple of page_bytes %d", size, pageBytes)
	}
	nPages := size / pageBytes
	for i := 0; i < nPages; i++ {
		logicalPageAddr := address.addr() + uint64(i*pageBytes)
		global := GlobalAddress{bitAddr: logicalPageAddr * 8, p: t.params}
		physicalPageAddr, err := t.getLowestFreePage(mt)
		if err != nil {
			return err
		}
		local := LocalAddress{MemoryType: mt, Ordering: ordering, BitAddr: int(physicalPageAddr) * 8}

		if _, exists := t.pages[logicalPageAddr]; exists {
			return fmt.Errorf("addr: page at 0x%x already mapped", logicalPageAddr)
		}

		nCacheLines := pageBytes / t.params.CacheLineBytes / t.params.KCount()
		info := &PageInfo{
			Global:   global,
			Local:    local,
			Fresh:    make([]bool, nCacheLines),
			Readable: readable,
			Writable: writable,
		}
		for j := range info.Fresh {
			info.Fresh[j] = true
		}

		if mt == VPU {
			t.vpuPages[physicalPageAddr] = info
		} else {
			t.scalarPages[physicalPageAddr] = info
		}
		t.pages[logicalPageAddr] = info
	}
	return nil
}

// ReleaseMemory unmaps size bytes starting at address, returning the
// backing pages to their free lists.
func (t *TLB) ReleaseMemory(address GlobalAddress, size int) error {
	pageBytes := t.params.PageBytes
	if size%pageBytes != 0 {
		return fmt.Errorf("addr: ReleaseMemory size %d is not a multiple of page_bytes %d", size, pageBytes)
	}
	nPages := size / pageBytes
	for i := 0; i < nPages; i++ {
		logicalPageAddr := address.addr() + uint64(i*pageBytes)
		info, ok := t.pages[logicalPageAddr]
		if !ok {
			return fmt.Errorf("addr: page at 0x%x is not mapped", logicalPageAddr)
		}
		delete(t.pages, logicalPageAddr)
		localAddr := uint64(info.Local.Addr())
		if info.Local.IsVPU() {
			t.vpuFreedPages = append(t.vpuFreedPages, localAddr)
			delete(t.vpuPages, localAddr)
		} else {
			t.scalarFreedPages = append(t.scalarFreedPages, localAddr)
			delete(t.scalarPages, localAddr)
		}
	}
	return nil
}

// GetPageInfo looks up the PageInfo for a page-aligned GlobalAddress.
func (t *TLB) GetPageInfo(page GlobalAddress) (*PageInfo, error) {
	if page.addr()%uint64(t.params.PageBytes) != 0 {
		return nil, fmt.Errorf("addr: GetPageInfo requires a page-aligned address, got 0x%x", page.addr())
	}
	info, ok := t.pages[page.addr()]
	if !ok {
		return nil, fmt.Errorf("addr: 0x%x not in page table", page.addr())
	}
	return info, nil
}

// GetPageInfoFromVPUAddr looks up the PageInfo owning a page-aligned
// VPUAddress.
func (t *TLB) GetPageInfoFromVPUAddr(addr VPUAddress) (*PageInfo, error) {
	if addr.addr()%uint64(t.params.PageBytes) != 0 {
		return nil, fmt.Errorf("addr: GetPageInfoFromVPUAddr requires page alignment, got 0x%x", addr.addr())
	}
	info, ok := t.vpuPages[addr.addr()]
	if !ok {
		return nil, fmt.Errorf("addr: VPU address 0x%x not in page table", addr.addr())
	}
	return info, nil
}

// CheckAccess returns the fault type (if any) for an access of the given
// kind to address.
func (t *TLB) CheckAccess(address GlobalAddress, isWrite bool) TLBFaultType {
	pageAddr := (address.addr() / uint64(t.params.PageBytes)) * uint64(t.params.PageBytes)
	info, ok := t.pages[pageAddr]
	if !ok {
		return FaultPage
	}
	if isWrite && !info.Writable {
		return FaultWrite
	}
	if !isWrite && !info.Readable {
		return FaultRead
	}
	return FaultNone
}

// IsFresh reports whether the cache line containing address has never been
// written to since its page was mapped.
func (t *TLB) IsFresh(address GlobalAddress) (bool, error) {
	page := address.GetPage()
	info, err := t.GetPageInfo(page)
	if err != nil {
		return false, err
	}
	idx := t.freshIndex(address, info)
	if idx < 0 || idx >= len(info.Fresh) {
		return false, fmt.Errorf("addr: cache line index %d out of range for page", idx)
	}
	return info.Fresh[idx], nil
}

// SetNotFresh clears the freshness bit for the cache line containing
// address. It is an error to call this on an already-stale line.
func (t *TLB) SetNotFresh(address GlobalAddress) error {
	page := address.GetPage()
	info, err := t.GetPageInfo(page)
	if err != nil {
		return err
	}
	idx := t.freshIndex(address, info)
	if idx < 0 || idx >= len(info.Fresh) {
		return fmt.Errorf("addr: cache line index %d out of range for page", idx)
	}
	if !info.Fresh[idx] {
		return fmt.Errorf("addr: cache line at 0x%x is already stale", address.addr())
	}
	info.Fresh[idx] = false
	return nil
}

func (t *TLB) freshIndex(address GlobalAddress, info *PageInfo) int {
	pageOffset := address.addr() - info.Global.addr()
	lCacheLineBytes := uint64(t.params.CacheLineBytes * t.params.KCount())
	return int(pageOffset / lCacheLineBytes)
}
