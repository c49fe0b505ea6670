// Package performance derives rendering and loading recommendations from
// device and network telemetry.
package performance

import "strings"

// EffectiveType is the coarse network speed class reported by the runtime.
type EffectiveType string

const (
	EffectiveSlow2G  EffectiveType = "slow-2g"
	Effective2G      EffectiveType = "2g"
	Effective3G      EffectiveType = "3g"
	Effective4G      EffectiveType = "4g"
	EffectiveUnknown EffectiveType = "unknown"
)

// ParseEffectiveType maps a reported class onto a known value. Anything
// unrecognised is EffectiveUnknown.
func ParseEffectiveType(s string) EffectiveType {
	switch et := EffectiveType(strings.ToLower(strings.TrimSpace(s))); et {
	case EffectiveSlow2G, Effective2G, Effective3G, Effective4G:
		return et
	default:
		return EffectiveUnknown
	}
}

// Is2GClass reports whether the type is slow-2g or 2g.
func (t EffectiveType) Is2GClass() bool {
	return t == EffectiveSlow2G || t == Effective2G
}

// ImageQuality is the recommended image tier.
type ImageQuality string

const (
	ImageLow    ImageQuality = "low"
	ImageMedium ImageQuality = "medium"
	ImageHigh   ImageQuality = "high"
)

// VideoQuality is the recommended video resolution.
type VideoQuality string

const (
	Video240p VideoQuality = "240p"
	Video480p VideoQuality = "480p"
	Video720p VideoQuality = "720p"
)

// Metrics is the sampled telemetry of one host.
type Metrics struct {
	ConnectionType   string        `json:"connectionType"`
	EffectiveType    EffectiveType `json:"effectiveType"`
	DownlinkMbps     float64       `json:"downlinkMbps"`
	RTTMs            float64       `json:"rttMs"`
	SaveData         bool          `json:"saveData"`
	MemoryUsageRatio *float64      `json:"memoryUsageRatio,omitempty"`
	DevicePixelRatio float64       `json:"devicePixelRatio"`
	ScreenSize       string        `json:"screenSize"`
	IsLowEndDevice   bool          `json:"isLowEndDevice"`
}

// DefaultMetrics is what an engine reports before any capability was read.
func DefaultMetrics() Metrics {
	return Metrics{
		ConnectionType:   "unknown",
		EffectiveType:    EffectiveUnknown,
		DevicePixelRatio: 1,
		ScreenSize:       "unknown",
	}
}

// clone returns a copy that shares no memory with m.
func (m Metrics) clone() Metrics {
	if m.MemoryUsageRatio != nil {
		v := *m.MemoryUsageRatio
		m.MemoryUsageRatio = &v
	}
	return m
}

// Recommendations are the behavioural switches derived from Metrics.
type Recommendations struct {
	ReduceAnimations    bool         `json:"reduceAnimations"`
	ReduceMemoryUsage   bool         `json:"reduceMemoryUsage"`
	ImageQuality        ImageQuality `json:"imageQuality"`
	VideoQuality        VideoQuality `json:"videoQuality"`
	EnableOfflineMode   bool         `json:"enableOfflineMode"`
	LoadLazyComponents  bool         `json:"loadLazyComponents"`
	LazyLoadImages      bool         `json:"lazyLoadImages"`
	UseWebP             bool         `json:"useWebP"`
	EnableServiceWorker bool         `json:"enableServiceWorker"`
	CompressAssets      bool         `json:"compressAssets"`
	UseCDN              bool         `json:"useCDN"`
	EnableCaching       bool         `json:"enableCaching"`
	ReduceBundleSize    bool         `json:"reduceBundleSize"`
}

// MemoryPressureThreshold is the heap usage ratio above which memory use
// should be reduced.
const MemoryPressureThreshold = 0.8

// Recommend derives the recommendation set. It is a pure function of its
// inputs.
func Recommend(m Metrics, online bool) Recommendations {
	slow := m.EffectiveType.Is2GClass()
	slowest := m.EffectiveType == EffectiveSlow2G
	lazy := slow || m.IsLowEndDevice

	r := Recommendations{
		ReduceAnimations:    slow || m.SaveData || m.IsLowEndDevice,
		ReduceMemoryUsage:   m.MemoryUsageRatio != nil && *m.MemoryUsageRatio > MemoryPressureThreshold,
		ImageQuality:        ImageHigh,
		VideoQuality:        Video720p,
		EnableOfflineMode:   !online || slowest,
		LoadLazyComponents:  lazy,
		LazyLoadImages:      lazy,
		UseWebP:             !slow,
		EnableServiceWorker: !m.IsLowEndDevice,
		CompressAssets:      m.SaveData || slowest,
		UseCDN:              !slowest,
		EnableCaching:       !m.SaveData,
		ReduceBundleSize:    m.IsLowEndDevice || slowest,
	}

	switch {
	case slow:
		r.ImageQuality = ImageLow
		r.VideoQuality = Video240p
	case m.EffectiveType == Effective3G:
		r.ImageQuality = ImageMedium
		r.VideoQuality = Video480p
	}
	return r
}
