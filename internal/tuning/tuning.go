// Package tuning holds the heap and collector's tunable constants,
// loaded through Viper so an embedder can override them from the
// environment or a config file without recompiling.
package tuning

import (
	"strings"

	"github.com/spf13/viper"
)

// Tuning holds every constant that shapes heap geometry and the
// collector's trigger points.
type Tuning struct {
	PoolBits         uint   // pool_size = 1 << PoolBits
	PageBits         uint   // page_size = 1 << PageBits
	ObjAlignBits     uint   // slot_size = 1 << ObjAlignBits
	MaxHeapSize      uint64 // cap on live heap bytes
	GCThresholdPct   int    // used/max ratio (percent) triggering auto-GC
	MigrationThresh  int    // retain page if live-slot ratio (percent) >= this
	MaxPageSeek      int    // pages scanned in alloc slow path
	MaxHeapObjSize   uint32 // boundary to huge path
	MaxArraySize     uint64 // cap on array capacity
	MaxPropReprobes  int    // linear-probe limit before resize
	MinPropsCapacity int    // initial property-table size
	MaxThreads       int    // per-instance thread slots

	// MadGC forces every allocation down the slow path (retiring
	// cur_page immediately) to shake out concurrency bugs.
	MadGC bool
}

// Defaults returns the compiled-in constant values.
func Defaults() Tuning {
	return Tuning{
		PoolBits:         19,
		PageBits:         12,
		ObjAlignBits:     5,
		MaxHeapSize:      64 << 20,
		GCThresholdPct:   75,
		MigrationThresh:  90,
		MaxPageSeek:      8,
		MaxHeapObjSize:   512,
		MaxArraySize:     1 << 28,
		MaxPropReprobes:  8,
		MinPropsCapacity: 4,
		MaxThreads:       32,
		MadGC:            false,
	}
}

// PoolSize returns 1 << PoolBits.
func (t Tuning) PoolSize() uint64 { return 1 << t.PoolBits }

// PageSize returns 1 << PageBits.
func (t Tuning) PageSize() uint32 { return 1 << t.PageBits }

// SlotSize returns 1 << ObjAlignBits.
func (t Tuning) SlotSize() uint32 { return 1 << t.ObjAlignBits }

// PagesPerPool returns how many pages a pool is carved into.
func (t Tuning) PagesPerPool() uint32 {
	return uint32(t.PoolSize() / uint64(t.PageSize()))
}

// Load reads overrides from the environment (prefix KOS_) and, if
// present, from the given config file, layered on top of Defaults.
// Calling Load is entirely optional: an embedder that never calls it
// gets the compiled-in defaults untouched.
func Load(configFile string) (Tuning, error) {
	v := viper.New()
	v.SetEnvPrefix("KOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("pool_bits", d.PoolBits)
	v.SetDefault("page_bits", d.PageBits)
	v.SetDefault("obj_align_bits", d.ObjAlignBits)
	v.SetDefault("max_heap_size", d.MaxHeapSize)
	v.SetDefault("gc_threshold_pct", d.GCThresholdPct)
	v.SetDefault("migration_thresh", d.MigrationThresh)
	v.SetDefault("max_page_seek", d.MaxPageSeek)
	v.SetDefault("max_heap_obj_size", d.MaxHeapObjSize)
	v.SetDefault("max_array_size", d.MaxArraySize)
	v.SetDefault("max_prop_reprobes", d.MaxPropReprobes)
	v.SetDefault("min_props_capacity", d.MinPropsCapacity)
	v.SetDefault("max_threads", d.MaxThreads)
	v.SetDefault("mad_gc", d.MadGC)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Tuning{}, err
		}
	}

	return Tuning{
		PoolBits:         uint(v.GetUint32("pool_bits")),
		PageBits:         uint(v.GetUint32("page_bits")),
		ObjAlignBits:     uint(v.GetUint32("obj_align_bits")),
		MaxHeapSize:      v.GetUint64("max_heap_size"),
		GCThresholdPct:   v.GetInt("gc_threshold_pct"),
		MigrationThresh:  v.GetInt("migration_thresh"),
		MaxPageSeek:      v.GetInt("max_page_seek"),
		MaxHeapObjSize:   uint32(v.GetUint32("max_heap_obj_size")),
		MaxArraySize:     v.GetUint64("max_array_size"),
		MaxPropReprobes:  v.GetInt("max_prop_reprobes"),
		MinPropsCapacity: v.GetInt("min_props_capacity"),
		MaxThreads:       v.GetInt("max_threads"),
		MadGC:            v.GetBool("mad_gc"),
	}, nil
}
