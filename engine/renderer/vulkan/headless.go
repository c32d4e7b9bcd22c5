package vulkan

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	vk "github.com/goki/vulkan"
)

// HeadlessConfig describes the simulated hardware. Zero fields take defaults.
type HeadlessConfig struct {
	Adapters []AdapterInfo
	Surface  SurfaceSupport

	// Overrides the features reported for a format.
	FormatFeatures map[vk.Format]vk.FormatFeatureFlags
}

// DefaultHeadlessAdapter is a discrete GPU with a device local heap and a host
// visible + coherent memory type.
func DefaultHeadlessAdapter() AdapterInfo {
	return AdapterInfo{
		Name: "Headless Discrete GPU",
		Type: vk.PhysicalDeviceTypeDiscreteGpu,
		MemoryTypes: []MemoryType{
			{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), HeapIndex: 0},
			{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit), HeapIndex: 1},
			{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit | vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit), HeapIndex: 0},
		},
		MemoryHeaps: []MemoryHeap{
			{Size: 256 << 20, DeviceLocal: true},
			{Size: 256 << 20},
		},
		QueueFamilies: []QueueFamily{
			{Flags: vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit), Count: 1, PresentReady: true},
			{Flags: vk.QueueFlags(vk.QueueTransferBit), Count: 1},
		},
		Extensions:                      []string{vk.KhrSwapchainExtensionName},
		SamplerAnisotropy:               true,
		MaxSamplerAnisotropy:            16,
		MinUniformBufferOffsetAlignment: 256,
	}
}

// DefaultHeadlessSurface is an 800x600 surface allowing 2 to 8 images.
func DefaultHeadlessSurface() SurfaceSupport {
	return SurfaceSupport{
		Capabilities: SurfaceCapabilities{
			MinImageCount:    2,
			MaxImageCount:    8,
			CurrentExtent:    Extent{Width: math.MaxUint32, Height: math.MaxUint32},
			MinImageExtent:   Extent{Width: 1, Height: 1},
			MaxImageExtent:   Extent{Width: 4096, Height: 4096},
			CurrentTransform: vk.SurfaceTransformIdentityBit,
		},
		Formats: []SurfaceFormat{
			{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
			{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		},
		PresentModes: []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox},
	}
}

type hCommand struct {
	name string
	exec func()
}

type hCommandBuffer struct {
	pool        Handle
	recording   bool
	commands    []hCommand
	framebuffer Handle
	sets        []Handle
}

type hBuffer struct {
	size   uint64
	memory Handle
	offset uint64
}

type hImage struct {
	info      ImageCreateInfo
	memory    Handle
	offset    uint64
	layouts   []vk.ImageLayout
	swapchain Handle
}

type hSwapchain struct {
	info     SwapchainCreateInfo
	images   []Handle
	acquired map[uint32]bool
	next     uint32
}

type hMemory struct {
	data     []byte
	heap     uint32
	mapped   bool
	typeFlag vk.MemoryPropertyFlags
}

type hDescriptorPool struct {
	maxSets uint32
	sets    map[Handle]bool
}

type hSubmission struct {
	id      int
	fence   Handle
	buffers []Handle
	signal  []Handle
	targets []Handle
}

// SubmissionRecord describes one queue submission seen by the HeadlessDriver.
type SubmissionRecord struct {
	ID    int
	Fence Handle
	// Swapchain images rendered to by the submission.
	Targets []Handle
}

// HeadlessDriver is a Driver without a GPU. It keeps every native object in
// memory and simulates the GPU timeline: submissions stay pending until a
// fence wait or an idle wait reaches them, then execute in FIFO order. Misuse
// of the synchronisation protocol is recorded as a violation instead of
// corrupting state, so tests can assert the backend never races the GPU.
type HeadlessDriver struct {
	mu sync.Mutex

	next     Handle
	adapters []AdapterInfo
	surface  SurfaceSupport
	formats  map[vk.Format]vk.FormatFeatureFlags

	kinds          map[Handle]string
	queues         map[[2]uint32]Handle
	fences         map[Handle]bool
	semaphores     map[Handle]bool
	commandBuffers map[Handle]*hCommandBuffer
	memory         map[Handle]*hMemory
	heapUsage      map[uint32]uint64
	buffers        map[Handle]*hBuffer
	images         map[Handle]*hImage
	views          map[Handle]Handle
	framebuffers   map[Handle][]Handle
	swapchains     map[Handle]*hSwapchain
	pools          map[Handle]*hDescriptorPool
	sets           map[Handle]map[uint32]DescriptorWrite

	pending     []*hSubmission
	submissions []SubmissionRecord
	submitCount int

	acquireOrder   []uint32
	acquireResults []vk.Result
	presentResults []vk.Result
	waitResults    []vk.Result
	submitResults  []vk.Result

	descriptorWrites int
	events           []string
	violations       []string
}

func NewHeadlessDriver(config HeadlessConfig) *HeadlessDriver {
	if len(config.Adapters) == 0 {
		config.Adapters = []AdapterInfo{DefaultHeadlessAdapter()}
	}
	if len(config.Surface.Formats) == 0 {
		config.Surface = DefaultHeadlessSurface()
	}
	d := &HeadlessDriver{
		surface:        config.Surface,
		formats:        config.FormatFeatures,
		kinds:          make(map[Handle]string),
		queues:         make(map[[2]uint32]Handle),
		fences:         make(map[Handle]bool),
		semaphores:     make(map[Handle]bool),
		commandBuffers: make(map[Handle]*hCommandBuffer),
		memory:         make(map[Handle]*hMemory),
		heapUsage:      make(map[uint32]uint64),
		buffers:        make(map[Handle]*hBuffer),
		images:         make(map[Handle]*hImage),
		views:          make(map[Handle]Handle),
		framebuffers:   make(map[Handle][]Handle),
		swapchains:     make(map[Handle]*hSwapchain),
		pools:          make(map[Handle]*hDescriptorPool),
		sets:           make(map[Handle]map[uint32]DescriptorWrite),
	}
	for _, a := range config.Adapters {
		a.Handle = d.alloc("adapter")
		d.adapters = append(d.adapters, a)
	}
	return d
}

func (d *HeadlessDriver) alloc(kind string) Handle {
	d.next++
	d.kinds[d.next] = kind
	return d.next
}

func (d *HeadlessDriver) free(h Handle, kind string) {
	if h == NullHandle {
		return
	}
	if d.kinds[h] != kind {
		d.violate("destroying %s %d which is not a live %s", kind, h, kind)
		return
	}
	delete(d.kinds, h)
}

func (d *HeadlessDriver) violate(format string, args ...interface{}) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *HeadlessDriver) event(format string, args ...interface{}) {
	d.events = append(d.events, fmt.Sprintf(format, args...))
}

// Scripting and inspection.

// SetSurfaceExtent makes the surface report a fixed current extent, the way a
// window manager does after a resize.
func (d *HeadlessDriver) SetSurfaceExtent(width, height uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.surface.Capabilities.CurrentExtent = Extent{Width: width, Height: height}
}

// SetAcquireOrder scripts the image indices returned by the next acquires.
// Once exhausted, images are handed out round robin.
func (d *HeadlessDriver) SetAcquireOrder(indices ...uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquireOrder = append(d.acquireOrder, indices...)
}

// QueueAcquireResult makes a future acquire return result instead of Success.
func (d *HeadlessDriver) QueueAcquireResult(results ...vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquireResults = append(d.acquireResults, results...)
}

// QueuePresentResult makes a future present return result instead of Success.
func (d *HeadlessDriver) QueuePresentResult(results ...vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presentResults = append(d.presentResults, results...)
}

// QueueSubmitResult makes future queue submissions fail with results, one
// per submission. A failed submission changes no state.
func (d *HeadlessDriver) QueueSubmitResult(results ...vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitResults = append(d.submitResults, results...)
}

// QueueWaitResult makes a future fence wait fail with result.
func (d *HeadlessDriver) QueueWaitResult(results ...vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitResults = append(d.waitResults, results...)
}

func (d *HeadlessDriver) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

func (d *HeadlessDriver) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func (d *HeadlessDriver) ClearEvents() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = nil
}

// LiveObjects counts the live native objects per kind.
func (d *HeadlessDriver) LiveObjects() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[string]int{}
	for _, kind := range d.kinds {
		out[kind]++
	}
	return out
}

func (d *HeadlessDriver) PendingSubmissions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *HeadlessDriver) Submissions() []SubmissionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]SubmissionRecord(nil), d.submissions...)
}

func (d *HeadlessDriver) DescriptorWrites() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.descriptorWrites
}

// DescriptorBinding returns the last write made to binding of set.
func (d *HeadlessDriver) DescriptorBinding(set Handle, binding uint32) (DescriptorWrite, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.sets[set][binding]
	return w, ok
}

func (d *HeadlessDriver) ImageLayout(image Handle, mip uint32) vk.ImageLayout {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[image]
	if !ok || mip >= uint32(len(img.layouts)) {
		return vk.ImageLayoutUndefined
	}
	return img.layouts[mip]
}

// BufferContents copies the bytes currently backing buffer.
func (d *HeadlessDriver) BufferContents(buffer Handle) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[buffer]
	if !ok || b.memory == NullHandle {
		return nil
	}
	mem := d.memory[b.memory]
	return append([]byte(nil), mem.data[b.offset:b.offset+b.size]...)
}

// ImageContents copies the bytes currently backing the base level of image.
func (d *HeadlessDriver) ImageContents(image Handle) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[image]
	if !ok || img.memory == NullHandle {
		return nil
	}
	size := uint64(img.info.Width) * uint64(img.info.Height) * 4
	mem := d.memory[img.memory]
	return append([]byte(nil), mem.data[img.offset:img.offset+size]...)
}

// CompleteAll lets the simulated GPU drain every pending submission.
func (d *HeadlessDriver) CompleteAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completeUntil(len(d.pending))
}

func (d *HeadlessDriver) completeUntil(n int) {
	for i := 0; i < n; i++ {
		s := d.pending[i]
		for _, cb := range s.buffers {
			if rec, ok := d.commandBuffers[cb]; ok {
				for _, c := range rec.commands {
					if c.exec != nil {
						c.exec()
					}
				}
			}
		}
		if s.fence != NullHandle {
			d.fences[s.fence] = true
		}
		d.event("complete submission=%d", s.id)
	}
	d.pending = d.pending[n:]
}

func (d *HeadlessDriver) pendingUses(match func(s *hSubmission, cb *hCommandBuffer) bool) bool {
	for _, s := range d.pending {
		for _, h := range s.buffers {
			if cb, ok := d.commandBuffers[h]; ok && match(s, cb) {
				return true
			}
		}
	}
	return false
}

func (d *HeadlessDriver) recording(cb Handle, name string) *hCommandBuffer {
	rec, ok := d.commandBuffers[cb]
	if !ok {
		d.violate("%s on unknown command buffer %d", name, cb)
		return nil
	}
	if !rec.recording {
		d.violate("%s recorded into command buffer %d which is not recording", name, cb)
		return nil
	}
	return rec
}

// Instance and device.

func (d *HeadlessDriver) Adapters() ([]AdapterInfo, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]AdapterInfo(nil), d.adapters...), vk.Success
}

func (d *HeadlessDriver) QuerySurface(adapter Handle) (SurfaceSupport, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.surface
	s.Formats = append([]SurfaceFormat(nil), s.Formats...)
	s.PresentModes = append([]vk.PresentMode(nil), s.PresentModes...)
	return s, vk.Success
}

func (d *HeadlessDriver) FormatFeatures(adapter Handle, format vk.Format) vk.FormatFeatureFlags {
	if features, ok := d.formats[format]; ok {
		return features
	}
	switch format {
	case vk.FormatD32Sfloat, vk.FormatD32SfloatS8Uint, vk.FormatD24UnormS8Uint:
		return vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	}
	return vk.FormatFeatureFlags(vk.FormatFeatureSampledImageBit | vk.FormatFeatureSampledImageFilterLinearBit |
		vk.FormatFeatureBlitSrcBit | vk.FormatFeatureBlitDstBit | vk.FormatFeatureColorAttachmentBit)
}

func (d *HeadlessDriver) CreateDevice(adapter Handle, info DeviceCreateInfo) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.kinds[adapter] != "adapter" {
		return NullHandle, vk.ErrorInitializationFailed
	}
	var supported []string
	for _, a := range d.adapters {
		if a.Handle == adapter {
			supported = a.Extensions
		}
	}
	enabled := map[string]bool{}
	for _, e := range info.Extensions {
		if enabled[e] {
			d.violate("device extension %s enabled twice", e)
		}
		enabled[e] = true
		if !slices.Contains(supported, e) {
			return NullHandle, vk.ErrorExtensionNotPresent
		}
	}
	d.event("create device extensions=%s", strings.Join(info.Extensions, ","))
	return d.alloc("device"), vk.Success
}

func (d *HeadlessDriver) GetQueue(device Handle, family, index uint32) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := [2]uint32{family, index}
	if q, ok := d.queues[key]; ok {
		return q
	}
	q := d.alloc("queue")
	d.queues[key] = q
	return q
}

func (d *HeadlessDriver) DestroyDevice(device Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) > 0 {
		d.violate("device destroyed with %d pending submissions", len(d.pending))
	}
	for key, q := range d.queues {
		delete(d.kinds, q)
		delete(d.queues, key)
	}
	d.free(device, "device")
}

func (d *HeadlessDriver) DeviceWaitIdle(device Handle) vk.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.event("device wait idle")
	d.completeUntil(len(d.pending))
	return vk.Success
}

func (d *HeadlessDriver) QueueWaitIdle(queue Handle) vk.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.event("queue wait idle")
	d.completeUntil(len(d.pending))
	return vk.Success
}

func (d *HeadlessDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range d.adapters {
		delete(d.kinds, a.Handle)
	}
}

// Commands.

func (d *HeadlessDriver) CreateCommandPool(device Handle, family uint32) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alloc("command_pool"), vk.Success
}

func (d *HeadlessDriver) DestroyCommandPool(device, pool Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for h, cb := range d.commandBuffers {
		if cb.pool == pool {
			delete(d.commandBuffers, h)
			delete(d.kinds, h)
		}
	}
	d.free(pool, "command_pool")
}

func (d *HeadlessDriver) AllocateCommandBuffers(device, pool Handle, primary bool, count uint32) ([]Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Handle, count)
	for i := range out {
		out[i] = d.alloc("command_buffer")
		d.commandBuffers[out[i]] = &hCommandBuffer{pool: pool}
	}
	return out, vk.Success
}

func (d *HeadlessDriver) FreeCommandBuffers(device, pool Handle, buffers []Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range buffers {
		if d.pendingUses(func(_ *hSubmission, cb *hCommandBuffer) bool { return cb == d.commandBuffers[h] }) {
			d.violate("command buffer %d freed while pending", h)
		}
		delete(d.commandBuffers, h)
		d.free(h, "command_buffer")
	}
}

func (d *HeadlessDriver) BeginCommandBuffer(cb Handle, flags vk.CommandBufferUsageFlags) vk.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.commandBuffers[cb]
	if !ok {
		d.violate("begin on unknown command buffer %d", cb)
		return vk.ErrorUnknown
	}
	if rec.recording {
		d.violate("begin on command buffer %d which is already recording", cb)
	}
	if d.pendingUses(func(_ *hSubmission, c *hCommandBuffer) bool { return c == rec }) {
		d.violate("begin on command buffer %d which is still pending", cb)
	}
	rec.recording = true
	rec.commands = nil
	rec.framebuffer = NullHandle
	rec.sets = nil
	return vk.Success
}

func (d *HeadlessDriver) EndCommandBuffer(cb Handle) vk.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec := d.recording(cb, "end"); rec != nil {
		rec.recording = false
	}
	return vk.Success
}

func (d *HeadlessDriver) ResetCommandBuffer(cb Handle) vk.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.commandBuffers[cb]
	if !ok {
		return vk.ErrorUnknown
	}
	if d.pendingUses(func(_ *hSubmission, c *hCommandBuffer) bool { return c == rec }) {
		d.violate("reset of command buffer %d which is still pending", cb)
	}
	rec.recording = false
	rec.commands = nil
	return vk.Success
}

// Synchronisation.

func (d *HeadlessDriver) CreateFence(device Handle, signaled bool) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.alloc("fence")
	d.fences[h] = signaled
	return h, vk.Success
}

func (d *HeadlessDriver) WaitForFence(device, fence Handle, timeout uint64) vk.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.event("wait fence=%d", fence)
	if n := len(d.waitResults); n > 0 {
		r := d.waitResults[0]
		d.waitResults = d.waitResults[1:]
		return r
	}
	if d.fences[fence] {
		return vk.Success
	}
	for i, s := range d.pending {
		if s.fence == fence {
			if timeout == 0 {
				return vk.Timeout
			}
			d.completeUntil(i + 1)
			return vk.Success
		}
	}
	if timeout == 0 {
		return vk.Timeout
	}
	d.violate("wait on fence %d that is unsignaled and not pending would never return", fence)
	return vk.Timeout
}

func (d *HeadlessDriver) ResetFence(device, fence Handle) vk.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.pending {
		if s.fence == fence {
			d.violate("reset of fence %d still owned by a pending submission", fence)
		}
	}
	d.fences[fence] = false
	return vk.Success
}

func (d *HeadlessDriver) DestroyFence(device, fence Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.pending {
		if s.fence == fence {
			d.violate("fence %d destroyed while pending", fence)
		}
	}
	delete(d.fences, fence)
	d.free(fence, "fence")
}

func (d *HeadlessDriver) CreateSemaphore(device Handle) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.alloc("semaphore")
	d.semaphores[h] = false
	return h, vk.Success
}

func (d *HeadlessDriver) DestroySemaphore(device, semaphore Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.semaphores, semaphore)
	d.free(semaphore, "semaphore")
}

func (d *HeadlessDriver) signal(semaphore Handle, who string) {
	if semaphore == NullHandle {
		return
	}
	if d.semaphores[semaphore] {
		d.violate("%s signals semaphore %d which is already signaled", who, semaphore)
	}
	d.semaphores[semaphore] = true
}

func (d *HeadlessDriver) consume(semaphore Handle, who string) {
	if !d.semaphores[semaphore] {
		d.violate("%s waits on semaphore %d which nothing signaled", who, semaphore)
	}
	d.semaphores[semaphore] = false
}

func (d *HeadlessDriver) QueueSubmit(queue Handle, submit SubmitInfo, fence Handle) vk.Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.submitResults) > 0 {
		r := d.submitResults[0]
		d.submitResults = d.submitResults[1:]
		if r != vk.Success {
			d.event("submit result=%d", r)
			return r
		}
	}

	d.submitCount++
	s := &hSubmission{id: d.submitCount, fence: fence, buffers: submit.CommandBuffers, signal: submit.SignalSemaphores}
	if fence != NullHandle && d.fences[fence] {
		d.violate("submission %d uses fence %d which is still signaled", s.id, fence)
	}
	for _, w := range submit.WaitSemaphores {
		d.consume(w, "submit")
	}
	for _, h := range submit.CommandBuffers {
		rec, ok := d.commandBuffers[h]
		if !ok {
			d.violate("submit of unknown command buffer %d", h)
			continue
		}
		if rec.recording {
			d.violate("submit of command buffer %d which is still recording", h)
		}
		if rec.framebuffer == NullHandle {
			continue
		}
		for _, view := range d.framebuffers[rec.framebuffer] {
			image := d.views[view]
			if img, ok := d.images[image]; ok && img.swapchain != NullHandle {
				s.targets = append(s.targets, image)
			}
		}
	}
	for _, target := range s.targets {
		for _, p := range d.pending {
			for _, other := range p.targets {
				if other == target {
					d.violate("swapchain image %d targeted by submissions %d and %d at once", target, p.id, s.id)
				}
			}
		}
	}
	for _, sig := range submit.SignalSemaphores {
		d.signal(sig, "submit")
	}
	d.pending = append(d.pending, s)
	d.submissions = append(d.submissions, SubmissionRecord{ID: s.id, Fence: fence, Targets: s.targets})
	d.event("submit submission=%d fence=%d", s.id, fence)
	return vk.Success
}

// Swapchain.

func (d *HeadlessDriver) CreateSwapchain(device Handle, info SwapchainCreateInfo) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	caps := d.surface.Capabilities
	if info.Extent.Width == 0 || info.Extent.Height == 0 {
		return NullHandle, vk.ErrorInitializationFailed
	}
	if info.MinImageCount < caps.MinImageCount || (caps.MaxImageCount > 0 && info.MinImageCount > caps.MaxImageCount) {
		d.violate("swapchain image count %d outside [%d, %d]", info.MinImageCount, caps.MinImageCount, caps.MaxImageCount)
	}
	h := d.alloc("swapchain")
	sc := &hSwapchain{info: info, acquired: map[uint32]bool{}}
	for i := uint32(0); i < info.MinImageCount; i++ {
		img := d.next + 1
		d.next++
		// Swapchain images are owned by the swapchain, not tracked as live objects.
		d.images[img] = &hImage{
			info:      ImageCreateInfo{Width: info.Extent.Width, Height: info.Extent.Height, MipLevels: 1, Format: info.Format.Format},
			layouts:   []vk.ImageLayout{vk.ImageLayoutUndefined},
			swapchain: h,
		}
		sc.images = append(sc.images, img)
	}
	d.swapchains[h] = sc
	d.event("create swapchain=%d images=%d extent=%dx%d", h, len(sc.images), info.Extent.Width, info.Extent.Height)
	return h, vk.Success
}

func (d *HeadlessDriver) SwapchainImages(device, swapchain Handle) ([]Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.swapchains[swapchain]
	if !ok {
		return nil, vk.ErrorSurfaceLost
	}
	return append([]Handle(nil), sc.images...), vk.Success
}

func (d *HeadlessDriver) DestroySwapchain(device, swapchain Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.swapchains[swapchain]
	if !ok {
		d.violate("destroying unknown swapchain %d", swapchain)
		return
	}
	for _, img := range sc.images {
		if d.pendingUses(func(s *hSubmission, _ *hCommandBuffer) bool {
			for _, t := range s.targets {
				if t == img {
					return true
				}
			}
			return false
		}) {
			d.violate("swapchain %d destroyed while image %d is in flight", swapchain, img)
		}
		delete(d.images, img)
	}
	delete(d.swapchains, swapchain)
	d.free(swapchain, "swapchain")
	d.event("destroy swapchain=%d", swapchain)
}

func (d *HeadlessDriver) AcquireNextImage(device, swapchain Handle, timeout uint64, semaphore, fence Handle) (uint32, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.swapchains[swapchain]
	if !ok {
		return 0, vk.ErrorSurfaceLost
	}
	result := vk.Success
	if len(d.acquireResults) > 0 {
		result = d.acquireResults[0]
		d.acquireResults = d.acquireResults[1:]
		if result != vk.Success && result != vk.Suboptimal {
			d.event("acquire result=%d", result)
			return 0, result
		}
	}

	var index uint32
	if len(d.acquireOrder) > 0 {
		index = d.acquireOrder[0] % uint32(len(sc.images))
		d.acquireOrder = d.acquireOrder[1:]
	} else {
		index = sc.next % uint32(len(sc.images))
	}
	sc.next = index + 1
	if sc.acquired[index] {
		d.violate("image %d acquired again before it was presented", index)
	}
	sc.acquired[index] = true
	d.signal(semaphore, "acquire")
	if fence != NullHandle {
		d.fences[fence] = true
	}
	d.event("acquire image=%d", index)
	return index, result
}

func (d *HeadlessDriver) QueuePresent(queue Handle, info PresentInfo) vk.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.swapchains[info.Swapchain]
	if !ok {
		return vk.ErrorSurfaceLost
	}
	if !sc.acquired[info.ImageIndex] {
		d.violate("present of image %d which was not acquired", info.ImageIndex)
	}
	delete(sc.acquired, info.ImageIndex)
	for _, w := range info.WaitSemaphores {
		d.consume(w, "present")
	}
	result := vk.Success
	if len(d.presentResults) > 0 {
		result = d.presentResults[0]
		d.presentResults = d.presentResults[1:]
	}
	d.event("present image=%d", info.ImageIndex)
	return result
}

// Memory and resources.

func (d *HeadlessDriver) CreateBuffer(device Handle, size uint64, usage vk.BufferUsageFlags) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if size == 0 {
		return NullHandle, vk.ErrorInitializationFailed
	}
	h := d.alloc("buffer")
	d.buffers[h] = &hBuffer{size: size}
	return h, vk.Success
}

func (d *HeadlessDriver) BufferMemoryRequirements(device, buffer Handle) MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.buffers[buffer]
	if b == nil {
		return MemoryRequirements{}
	}
	return MemoryRequirements{Size: alignHeadless(b.size, 256), Alignment: 256, MemoryTypeBits: d.allTypeBits()}
}

func (d *HeadlessDriver) BindBufferMemory(device, buffer, memory Handle, offset uint64) vk.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[buffer]
	mem, mok := d.memory[memory]
	if !ok || !mok || offset+b.size > uint64(len(mem.data)) {
		return vk.ErrorOutOfDeviceMemory
	}
	b.memory = memory
	b.offset = offset
	return vk.Success
}

func (d *HeadlessDriver) DestroyBuffer(device, buffer Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, buffer)
	d.free(buffer, "buffer")
}

func (d *HeadlessDriver) CreateImage(device Handle, info ImageCreateInfo) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info.Width == 0 || info.Height == 0 || info.MipLevels == 0 {
		return NullHandle, vk.ErrorInitializationFailed
	}
	h := d.alloc("image")
	layouts := make([]vk.ImageLayout, info.MipLevels)
	for i := range layouts {
		layouts[i] = vk.ImageLayoutUndefined
	}
	d.images[h] = &hImage{info: info, layouts: layouts}
	return h, vk.Success
}

func (d *HeadlessDriver) ImageMemoryRequirements(device, image Handle) MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	img := d.images[image]
	if img == nil {
		return MemoryRequirements{}
	}
	// Enough for the full chain of a 4 byte per texel image.
	size := uint64(img.info.Width) * uint64(img.info.Height) * 4 * 2
	return MemoryRequirements{Size: alignHeadless(size, 256), Alignment: 256, MemoryTypeBits: d.allTypeBits()}
}

func (d *HeadlessDriver) BindImageMemory(device, image, memory Handle, offset uint64) vk.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[image]
	if _, mok := d.memory[memory]; !ok || !mok {
		return vk.ErrorOutOfDeviceMemory
	}
	img.memory = memory
	img.offset = offset
	return vk.Success
}

func (d *HeadlessDriver) DestroyImage(device, image Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if img, ok := d.images[image]; ok && img.swapchain != NullHandle {
		d.violate("swapchain image %d destroyed by the application", image)
		return
	}
	delete(d.images, image)
	d.free(image, "image")
}

func (d *HeadlessDriver) CreateImageView(device Handle, info ImageViewCreateInfo) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.images[info.Image]; !ok {
		return NullHandle, vk.ErrorInitializationFailed
	}
	h := d.alloc("image_view")
	d.views[h] = info.Image
	return h, vk.Success
}

func (d *HeadlessDriver) DestroyImageView(device, view Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.views, view)
	d.free(view, "image_view")
}

func (d *HeadlessDriver) CreateSampler(device Handle, info SamplerCreateInfo) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alloc("sampler"), vk.Success
}

func (d *HeadlessDriver) DestroySampler(device, sampler Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free(sampler, "sampler")
}

func (d *HeadlessDriver) allTypeBits() uint32 {
	if len(d.adapters) == 0 {
		return 0
	}
	return uint32(1)<<uint32(len(d.adapters[0].MemoryTypes)) - 1
}

func (d *HeadlessDriver) AllocateMemory(device Handle, size uint64, memoryType uint32) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	adapter := d.adapters[0]
	if memoryType >= uint32(len(adapter.MemoryTypes)) {
		return NullHandle, vk.ErrorOutOfDeviceMemory
	}
	mt := adapter.MemoryTypes[memoryType]
	heap := adapter.MemoryHeaps[mt.HeapIndex]
	if d.heapUsage[mt.HeapIndex]+size > heap.Size {
		return NullHandle, vk.ErrorOutOfDeviceMemory
	}
	d.heapUsage[mt.HeapIndex] += size
	h := d.alloc("memory")
	d.memory[h] = &hMemory{data: make([]byte, size), heap: mt.HeapIndex, typeFlag: mt.PropertyFlags}
	return h, vk.Success
}

func (d *HeadlessDriver) FreeMemory(device, memory Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mem, ok := d.memory[memory]; ok {
		if mem.mapped {
			d.violate("memory %d freed while mapped", memory)
		}
		d.heapUsage[mem.heap] -= uint64(len(mem.data))
	}
	delete(d.memory, memory)
	d.free(memory, "memory")
}

func (d *HeadlessDriver) MapMemory(device, memory Handle, offset, size uint64) ([]byte, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, ok := d.memory[memory]
	if !ok {
		return nil, vk.ErrorMemoryMapFailed
	}
	if mem.typeFlag&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) == 0 {
		d.violate("mapping memory %d which is not host visible", memory)
		return nil, vk.ErrorMemoryMapFailed
	}
	if mem.mapped {
		d.violate("memory %d mapped twice", memory)
	}
	if offset+size > uint64(len(mem.data)) {
		return nil, vk.ErrorMemoryMapFailed
	}
	mem.mapped = true
	return mem.data[offset : offset+size : offset+size], vk.Success
}

func (d *HeadlessDriver) UnmapMemory(device, memory Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mem, ok := d.memory[memory]; ok {
		mem.mapped = false
	}
}

// Render passes, pipelines and descriptors.

func (d *HeadlessDriver) CreateRenderPass(device Handle, info RenderPassCreateInfo) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alloc("render_pass"), vk.Success
}

func (d *HeadlessDriver) DestroyRenderPass(device, renderPass Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free(renderPass, "render_pass")
}

func (d *HeadlessDriver) CreateFramebuffer(device Handle, info FramebufferCreateInfo) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range info.Attachments {
		if _, ok := d.views[a]; !ok {
			return NullHandle, vk.ErrorInitializationFailed
		}
	}
	h := d.alloc("framebuffer")
	d.framebuffers[h] = append([]Handle(nil), info.Attachments...)
	return h, vk.Success
}

func (d *HeadlessDriver) DestroyFramebuffer(device, framebuffer Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pendingUses(func(_ *hSubmission, cb *hCommandBuffer) bool { return cb.framebuffer == framebuffer }) {
		d.violate("framebuffer %d destroyed while in flight", framebuffer)
	}
	delete(d.framebuffers, framebuffer)
	d.free(framebuffer, "framebuffer")
}

func (d *HeadlessDriver) CreateShaderModule(device Handle, code []uint32) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// SPIR-V magic number.
	if len(code) < 5 || code[0] != 0x07230203 {
		return NullHandle, vk.ErrorInvalidShaderNv
	}
	return d.alloc("shader_module"), vk.Success
}

func (d *HeadlessDriver) DestroyShaderModule(device, module Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free(module, "shader_module")
}

func (d *HeadlessDriver) CreateDescriptorSetLayout(device Handle, bindings []DescriptorBinding) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alloc("descriptor_set_layout"), vk.Success
}

func (d *HeadlessDriver) DestroyDescriptorSetLayout(device, layout Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free(layout, "descriptor_set_layout")
}

func (d *HeadlessDriver) CreateDescriptorPool(device Handle, sizes []DescriptorPoolSize, maxSets uint32) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.alloc("descriptor_pool")
	d.pools[h] = &hDescriptorPool{maxSets: maxSets, sets: map[Handle]bool{}}
	return h, vk.Success
}

func (d *HeadlessDriver) DestroyDescriptorPool(device, pool Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pools[pool]; ok {
		for set := range p.sets {
			delete(d.sets, set)
			delete(d.kinds, set)
		}
	}
	delete(d.pools, pool)
	d.free(pool, "descriptor_pool")
}

func (d *HeadlessDriver) AllocateDescriptorSets(device, pool Handle, layouts []Handle) ([]Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	if !ok {
		return nil, vk.ErrorUnknown
	}
	if uint32(len(p.sets)+len(layouts)) > p.maxSets {
		return nil, vk.ErrorOutOfPoolMemory
	}
	out := make([]Handle, len(layouts))
	for i := range layouts {
		out[i] = d.alloc("descriptor_set")
		p.sets[out[i]] = true
		d.sets[out[i]] = map[uint32]DescriptorWrite{}
	}
	return out, vk.Success
}

func (d *HeadlessDriver) FreeDescriptorSets(device, pool Handle, sets []Handle) vk.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	if !ok {
		return vk.ErrorUnknown
	}
	for _, set := range sets {
		if d.setInFlight(set) {
			d.violate("descriptor set %d freed while in flight", set)
		}
		delete(p.sets, set)
		delete(d.sets, set)
		d.free(set, "descriptor_set")
	}
	return vk.Success
}

func (d *HeadlessDriver) setInFlight(set Handle) bool {
	return d.pendingUses(func(_ *hSubmission, cb *hCommandBuffer) bool {
		for _, s := range cb.sets {
			if s == set {
				return true
			}
		}
		return false
	})
}

func (d *HeadlessDriver) UpdateDescriptorSets(device Handle, writes []DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range writes {
		bindings, ok := d.sets[w.Set]
		if !ok {
			d.violate("write to unknown descriptor set %d", w.Set)
			continue
		}
		if d.setInFlight(w.Set) {
			d.violate("descriptor set %d written while in flight", w.Set)
		}
		bindings[w.Binding] = w
		d.descriptorWrites++
	}
}

func (d *HeadlessDriver) CreatePipelineLayout(device Handle, setLayouts []Handle, pushConstants []PushConstantRange) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alloc("pipeline_layout"), vk.Success
}

func (d *HeadlessDriver) DestroyPipelineLayout(device, layout Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free(layout, "pipeline_layout")
}

func (d *HeadlessDriver) CreateGraphicsPipeline(device Handle, info GraphicsPipelineCreateInfo) (Handle, vk.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info.Layout == NullHandle || info.RenderPass == NullHandle || len(info.Stages) == 0 {
		return NullHandle, vk.ErrorInitializationFailed
	}
	return d.alloc("pipeline"), vk.Success
}

func (d *HeadlessDriver) DestroyPipeline(device, pipeline Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free(pipeline, "pipeline")
}

// Recording.

func (d *HeadlessDriver) record(cb Handle, name string, exec func()) {
	if rec := d.recording(cb, name); rec != nil {
		rec.commands = append(rec.commands, hCommand{name: name, exec: exec})
	}
}

func (d *HeadlessDriver) CmdSetViewport(cb Handle, viewport Viewport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "set_viewport", nil)
}

func (d *HeadlessDriver) CmdSetScissor(cb Handle, scissor Rect) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "set_scissor", nil)
}

func (d *HeadlessDriver) CmdBeginRenderPass(cb Handle, info RenderPassBeginInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.framebuffers[info.Framebuffer]; !ok {
		d.violate("render pass begun on unknown framebuffer %d", info.Framebuffer)
	}
	d.record(cb, "begin_render_pass", nil)
	if rec, ok := d.commandBuffers[cb]; ok {
		rec.framebuffer = info.Framebuffer
	}
}

func (d *HeadlessDriver) CmdEndRenderPass(cb Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "end_render_pass", nil)
}

func (d *HeadlessDriver) CmdBindPipeline(cb, pipeline Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "bind_pipeline", nil)
}

func (d *HeadlessDriver) CmdBindDescriptorSets(cb, layout Handle, firstSet uint32, sets []Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, set := range sets {
		if _, ok := d.sets[set]; !ok {
			d.violate("binding unknown descriptor set %d", set)
		}
	}
	d.record(cb, "bind_descriptor_sets", nil)
	if rec, ok := d.commandBuffers[cb]; ok {
		rec.sets = append(rec.sets, sets...)
	}
}

func (d *HeadlessDriver) CmdPushConstants(cb, layout Handle, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "push_constants", nil)
}

func (d *HeadlessDriver) CmdBindVertexBuffer(cb, buffer Handle, offset uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "bind_vertex_buffer", nil)
}

func (d *HeadlessDriver) CmdBindIndexBuffer(cb, buffer Handle, offset uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "bind_index_buffer", nil)
}

func (d *HeadlessDriver) CmdDraw(cb Handle, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "draw", nil)
}

func (d *HeadlessDriver) CmdDrawIndexed(cb Handle, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "draw_indexed", nil)
}

func (d *HeadlessDriver) CmdCopyBuffer(cb, src, dst Handle, region BufferCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "copy_buffer", func() {
		s, sok := d.buffers[src]
		t, tok := d.buffers[dst]
		if !sok || !tok {
			d.violate("copy between destroyed buffers %d -> %d", src, dst)
			return
		}
		if region.SrcOffset+region.Size > s.size || region.DstOffset+region.Size > t.size {
			d.violate("copy of %d bytes out of range", region.Size)
			return
		}
		from := d.memory[s.memory].data[s.offset+region.SrcOffset:]
		to := d.memory[t.memory].data[t.offset+region.DstOffset:]
		copy(to[:region.Size], from[:region.Size])
	})
}

func (d *HeadlessDriver) CmdCopyBufferToImage(cb, buffer, image Handle, width, height uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "copy_buffer_to_image", func() {
		b, bok := d.buffers[buffer]
		img, iok := d.images[image]
		if !bok || !iok {
			d.violate("copy into destroyed image %d", image)
			return
		}
		if img.layouts[0] != vk.ImageLayoutTransferDstOptimal {
			d.violate("copy into image %d in layout %d", image, img.layouts[0])
		}
		size := uint64(width) * uint64(height) * 4
		if size > b.size {
			size = b.size
		}
		copy(d.memory[img.memory].data[img.offset:img.offset+size], d.memory[b.memory].data[b.offset:b.offset+size])
	})
}

func (d *HeadlessDriver) CmdPipelineBarrier(cb Handle, barrier ImageBarrier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "pipeline_barrier", func() {
		img, ok := d.images[barrier.Image]
		if !ok {
			d.violate("barrier on destroyed image %d", barrier.Image)
			return
		}
		for mip := barrier.BaseMip; mip < barrier.BaseMip+barrier.MipCount && mip < uint32(len(img.layouts)); mip++ {
			if barrier.OldLayout != vk.ImageLayoutUndefined && img.layouts[mip] != barrier.OldLayout {
				d.violate("image %d mip %d transitioned from layout %d but is in %d", barrier.Image, mip, barrier.OldLayout, img.layouts[mip])
			}
			img.layouts[mip] = barrier.NewLayout
		}
	})
}

func (d *HeadlessDriver) CmdBlitImage(cb, image Handle, blit ImageBlit) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(cb, "blit_image", func() {
		img, ok := d.images[image]
		if !ok {
			d.violate("blit on destroyed image %d", image)
			return
		}
		if img.layouts[blit.SrcMip] != vk.ImageLayoutTransferSrcOptimal {
			d.violate("blit source mip %d in layout %d", blit.SrcMip, img.layouts[blit.SrcMip])
		}
		if img.layouts[blit.DstMip] != vk.ImageLayoutTransferDstOptimal {
			d.violate("blit destination mip %d in layout %d", blit.DstMip, img.layouts[blit.DstMip])
		}
		if blit.DstWidth < 1 || blit.DstHeight < 1 {
			d.violate("blit into empty mip %d", blit.DstMip)
		}
	})
}

func alignHeadless(v, a uint64) uint64 {
	return (v + a - 1) / a * a
}
