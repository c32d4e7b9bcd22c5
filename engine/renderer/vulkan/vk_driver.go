package vulkan

import (
	"runtime"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
)

// SurfaceSource is the window side of the native driver: it loads the
// instance entry point and creates the presentation surface.
type SurfaceSource interface {
	InstanceProcAddr() unsafe.Pointer
	RequiredInstanceExtensions() []string
	CreateSurface(instance vk.Instance) (vk.Surface, error)
}

type vkAdapter struct {
	physical vk.PhysicalDevice
	features vk.PhysicalDeviceFeatures
}

// VulkanDriver issues the Driver calls against a real Vulkan instance. Native
// objects live in a registry keyed by Handle.
type VulkanDriver struct {
	mu      sync.RWMutex
	next    Handle
	objects map[Handle]any
	// Swapchain images are owned by their swapchain.
	swapchainImages map[Handle][]Handle
	queues          map[[3]uint64]Handle

	instance vk.Instance
	surface  vk.Surface
	debugger vk.DebugReportCallback
	adapters []AdapterInfo
	debug    bool
}

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}

// NewVulkanDriver loads Vulkan through source, creates the instance (with the
// validation layer and debug callback when config.Debug is set) and the
// window surface.
func NewVulkanDriver(source SurfaceSource, config Config) (*VulkanDriver, error) {
	procAddr := source.InstanceProcAddr()
	if procAddr == nil {
		return nil, core.NewFatalError(core.FatalDeviceCreation, errors.New("GetInstanceProcAddress is nil"))
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, core.NewFatalError(core.FatalDeviceCreation, errors.Wrap(err, "failed to initialize vk"))
	}

	d := &VulkanDriver{
		objects:         make(map[Handle]any),
		swapchainImages: make(map[Handle][]Handle),
		queues:          make(map[[3]uint64]Handle),
		debug:           config.Debug,
	}
	if err := d.createInstance(source, config.ApplicationName); err != nil {
		return nil, core.NewFatalError(core.FatalDeviceCreation, err)
	}

	if d.debug {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(d.instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogWarn("vk.CreateDebugReportCallback failed with %s", err)
		} else {
			d.debugger = dbg
			core.LogDebug("Vulkan debugger created.")
		}
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := source.CreateSurface(d.instance)
	if err != nil {
		d.Close()
		return nil, core.NewFatalError(core.FatalDeviceCreation, errors.Wrap(err, "vulkan surface creation failed"))
	}
	d.surface = surface
	core.LogDebug("Vulkan surface created.")
	return d, nil
}

func (d *VulkanDriver) createInstance(source SurfaceSource, appName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		EngineVersion:      uint32(vk.MakeVersion(1, 0, 0)),
		PEngineName:        VulkanSafeString("Prism Engine"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// Obtain a list of required extensions
	extensions := []string{"VK_KHR_surface"}
	for _, e := range source.RequiredInstanceExtensions() {
		if e != "VK_KHR_surface" {
			extensions = append(extensions, e)
		}
	}
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	if d.debug {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		core.LogInfo("Required extensions:")
		for _, e := range extensions {
			core.LogInfo("  %s", e)
		}
		if missing := missingLayers(validationLayers); len(missing) > 0 {
			core.LogWarn("Validation layers requested but not available: %v", missing)
		} else {
			layers = validationLayers
			core.LogInfo("All required validation layers are present.")
		}
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, nil, &instance); res != vk.Success {
		return errors.Errorf("failed in creating the Vulkan Instance with error `%s`", VulkanResultString(res, true))
	}
	if err := vk.InitInstance(instance); err != nil {
		return err
	}
	d.instance = instance
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func missingLayers(required []string) []string {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success {
		return required
	}
	available := make([]vk.LayerProperties, count)
	if vk.EnumerateInstanceLayerProperties(&count, available) != vk.Success {
		return required
	}
	names := make(map[string]bool, count)
	for i := range available {
		available[i].Deref()
		end := FindFirstZeroInByteArray(available[i].LayerName[:])
		names[string(available[i].LayerName[:end])] = true
	}
	var missing []string
	for _, name := range required {
		if !names[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

func (d *VulkanDriver) put(obj any) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.objects[d.next] = obj
	return d.next
}

func (d *VulkanDriver) drop(h Handle) {
	d.mu.Lock()
	delete(d.objects, h)
	d.mu.Unlock()
}

// lookup returns the native object behind h, or the null value of T.
func lookup[T any](d *VulkanDriver, h Handle) T {
	var zero T
	if h == NullHandle {
		return zero
	}
	d.mu.RLock()
	obj, ok := d.objects[h]
	d.mu.RUnlock()
	if !ok {
		return zero
	}
	v, _ := obj.(T)
	return v
}

func lookupAll[T any](d *VulkanDriver, hs []Handle) []T {
	out := make([]T, len(hs))
	for i, h := range hs {
		out[i] = lookup[T](d, h)
	}
	return out
}

func (d *VulkanDriver) dev(h Handle) vk.Device { return lookup[vk.Device](d, h) }

func (d *VulkanDriver) Adapters() ([]AdapterInfo, vk.Result) {
	if d.adapters != nil {
		return d.adapters, vk.Success
	}
	var count uint32
	if res := vk.EnumeratePhysicalDevices(d.instance, &count, nil); res != vk.Success {
		return nil, res
	}
	physical := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(d.instance, &count, physical); res != vk.Success {
		return nil, res
	}
	for _, pd := range physical {
		d.adapters = append(d.adapters, d.describe(pd))
	}
	return d.adapters, vk.Success
}

func (d *VulkanDriver) describe(pd vk.PhysicalDevice) AdapterInfo {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &props)
	props.Deref()
	props.Limits.Deref()

	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(pd, &features)
	features.Deref()

	info := AdapterInfo{
		Handle:                          d.put(vkAdapter{physical: pd, features: features}),
		Name:                            vk.ToString(props.DeviceName[:]),
		Type:                            props.DeviceType,
		APIVersion:                      props.ApiVersion,
		DriverVersion:                   props.DriverVersion,
		SamplerAnisotropy:               features.SamplerAnisotropy == vk.True,
		MaxSamplerAnisotropy:            props.Limits.MaxSamplerAnisotropy,
		MinUniformBufferOffsetAlignment: uint64(props.Limits.MinUniformBufferOffsetAlignment),
	}

	var memory vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(pd, &memory)
	memory.Deref()
	for i := uint32(0); i < memory.MemoryTypeCount; i++ {
		t := memory.MemoryTypes[i]
		t.Deref()
		info.MemoryTypes = append(info.MemoryTypes, MemoryType{PropertyFlags: t.PropertyFlags, HeapIndex: t.HeapIndex})
	}
	for i := uint32(0); i < memory.MemoryHeapCount; i++ {
		h := memory.MemoryHeaps[i]
		h.Deref()
		info.MemoryHeaps = append(info.MemoryHeaps, MemoryHeap{
			Size:        uint64(h.Size),
			DeviceLocal: h.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0,
		})
	}

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, families)
	for i := range families {
		families[i].Deref()
		var present vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), d.surface, &present)
		info.QueueFamilies = append(info.QueueFamilies, QueueFamily{
			Flags:        families[i].QueueFlags,
			Count:        families[i].QueueCount,
			PresentReady: present == vk.True,
		})
	}

	var extensionCount uint32
	if vk.EnumerateDeviceExtensionProperties(pd, "", &extensionCount, nil) == vk.Success && extensionCount > 0 {
		extensions := make([]vk.ExtensionProperties, extensionCount)
		vk.EnumerateDeviceExtensionProperties(pd, "", &extensionCount, extensions)
		for i := range extensions {
			extensions[i].Deref()
			info.Extensions = append(info.Extensions, vk.ToString(extensions[i].ExtensionName[:]))
		}
	}
	return info
}

func (d *VulkanDriver) QuerySurface(adapter Handle) (SurfaceSupport, vk.Result) {
	pd := lookup[vkAdapter](d, adapter).physical
	var support SurfaceSupport

	var caps vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(pd, d.surface, &caps); res != vk.Success {
		return support, res
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()
	support.Capabilities = SurfaceCapabilities{
		MinImageCount:    caps.MinImageCount,
		MaxImageCount:    caps.MaxImageCount,
		CurrentExtent:    Extent{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height},
		MinImageExtent:   Extent{Width: caps.MinImageExtent.Width, Height: caps.MinImageExtent.Height},
		MaxImageExtent:   Extent{Width: caps.MaxImageExtent.Width, Height: caps.MaxImageExtent.Height},
		CurrentTransform: caps.CurrentTransform,
	}

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(pd, d.surface, &formatCount, nil); res != vk.Success {
		return support, res
	}
	if formatCount > 0 {
		formats := make([]vk.SurfaceFormat, formatCount)
		vk.GetPhysicalDeviceSurfaceFormats(pd, d.surface, &formatCount, formats)
		for i := range formats {
			formats[i].Deref()
			support.Formats = append(support.Formats, SurfaceFormat{Format: formats[i].Format, ColorSpace: formats[i].ColorSpace})
		}
	}

	var modeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(pd, d.surface, &modeCount, nil); res != vk.Success {
		return support, res
	}
	if modeCount > 0 {
		support.PresentModes = make([]vk.PresentMode, modeCount)
		vk.GetPhysicalDeviceSurfacePresentModes(pd, d.surface, &modeCount, support.PresentModes)
	}
	return support, vk.Success
}

func (d *VulkanDriver) FormatFeatures(adapter Handle, format vk.Format) vk.FormatFeatureFlags {
	var props vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(lookup[vkAdapter](d, adapter).physical, format, &props)
	props.Deref()
	return props.OptimalTilingFeatures
}

func (d *VulkanDriver) CreateDevice(adapter Handle, info DeviceCreateInfo) (Handle, vk.Result) {
	a := lookup[vkAdapter](d, adapter)
	queueInfos := make([]vk.DeviceQueueCreateInfo, 0, len(info.QueueFamilies))
	for _, family := range info.QueueFamilies {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	extensions := append([]string(nil), info.Extensions...)

	features := vk.PhysicalDeviceFeatures{
		// Wireframe pipelines need fillModeNonSolid.
		FillModeNonSolid: a.features.FillModeNonSolid,
	}
	if info.SamplerAnisotropy {
		features.SamplerAnisotropy = vk.True
	}

	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
	}
	var device vk.Device
	if res := vk.CreateDevice(a.physical, &createInfo, nil, &device); res != vk.Success {
		return NullHandle, res
	}
	return d.put(device), vk.Success
}

func (d *VulkanDriver) GetQueue(device Handle, family, index uint32) Handle {
	key := [3]uint64{uint64(device), uint64(family), uint64(index)}
	d.mu.RLock()
	h, ok := d.queues[key]
	d.mu.RUnlock()
	if ok {
		return h
	}
	var queue vk.Queue
	vk.GetDeviceQueue(d.dev(device), family, index, &queue)
	h = d.put(queue)
	d.mu.Lock()
	d.queues[key] = h
	d.mu.Unlock()
	return h
}

func (d *VulkanDriver) DestroyDevice(device Handle) {
	vk.DestroyDevice(d.dev(device), nil)
	d.mu.Lock()
	for key, h := range d.queues {
		if Handle(key[0]) == device {
			delete(d.objects, h)
			delete(d.queues, key)
		}
	}
	delete(d.objects, device)
	d.mu.Unlock()
}

func (d *VulkanDriver) DeviceWaitIdle(device Handle) vk.Result {
	return vk.DeviceWaitIdle(d.dev(device))
}

func (d *VulkanDriver) QueueWaitIdle(queue Handle) vk.Result {
	return vk.QueueWaitIdle(lookup[vk.Queue](d, queue))
}

func (d *VulkanDriver) Close() {
	if d.surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(d.instance, d.surface, nil)
		d.surface = vk.NullSurface
	}
	if d.debugger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(d.instance, d.debugger, nil)
		d.debugger = vk.NullDebugReportCallback
	}
	if d.instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
	d.mu.Lock()
	d.objects = make(map[Handle]any)
	d.swapchainImages = make(map[Handle][]Handle)
	d.queues = make(map[[3]uint64]Handle)
	d.adapters = nil
	d.mu.Unlock()
}

func (d *VulkanDriver) CreateCommandPool(device Handle, family uint32) (Handle, vk.Result) {
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: family,
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(d.dev(device), &info, nil, &pool); res != vk.Success {
		return NullHandle, res
	}
	return d.put(pool), vk.Success
}

func (d *VulkanDriver) DestroyCommandPool(device, pool Handle) {
	vk.DestroyCommandPool(d.dev(device), lookup[vk.CommandPool](d, pool), nil)
	d.drop(pool)
}

func (d *VulkanDriver) AllocateCommandBuffers(device, pool Handle, primary bool, count uint32) ([]Handle, vk.Result) {
	level := vk.CommandBufferLevelSecondary
	if primary {
		level = vk.CommandBufferLevelPrimary
	}
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        lookup[vk.CommandPool](d, pool),
		Level:              level,
		CommandBufferCount: count,
	}
	buffers := make([]vk.CommandBuffer, count)
	if res := vk.AllocateCommandBuffers(d.dev(device), &info, buffers); res != vk.Success {
		return nil, res
	}
	handles := make([]Handle, count)
	for i, b := range buffers {
		handles[i] = d.put(b)
	}
	return handles, vk.Success
}

func (d *VulkanDriver) FreeCommandBuffers(device, pool Handle, buffers []Handle) {
	if len(buffers) == 0 {
		return
	}
	vk.FreeCommandBuffers(d.dev(device), lookup[vk.CommandPool](d, pool), uint32(len(buffers)), lookupAll[vk.CommandBuffer](d, buffers))
	for _, b := range buffers {
		d.drop(b)
	}
}

func (d *VulkanDriver) BeginCommandBuffer(cb Handle, flags vk.CommandBufferUsageFlags) vk.Result {
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: flags,
	}
	return vk.BeginCommandBuffer(lookup[vk.CommandBuffer](d, cb), &info)
}

func (d *VulkanDriver) EndCommandBuffer(cb Handle) vk.Result {
	return vk.EndCommandBuffer(lookup[vk.CommandBuffer](d, cb))
}

func (d *VulkanDriver) ResetCommandBuffer(cb Handle) vk.Result {
	return vk.ResetCommandBuffer(lookup[vk.CommandBuffer](d, cb), 0)
}

func (d *VulkanDriver) CreateFence(device Handle, signaled bool) (Handle, vk.Result) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if res := vk.CreateFence(d.dev(device), &info, nil, &fence); res != vk.Success {
		return NullHandle, res
	}
	return d.put(fence), vk.Success
}

func (d *VulkanDriver) WaitForFence(device, fence Handle, timeout uint64) vk.Result {
	return vk.WaitForFences(d.dev(device), 1, []vk.Fence{lookup[vk.Fence](d, fence)}, vk.True, timeout)
}

func (d *VulkanDriver) ResetFence(device, fence Handle) vk.Result {
	return vk.ResetFences(d.dev(device), 1, []vk.Fence{lookup[vk.Fence](d, fence)})
}

func (d *VulkanDriver) DestroyFence(device, fence Handle) {
	vk.DestroyFence(d.dev(device), lookup[vk.Fence](d, fence), nil)
	d.drop(fence)
}

func (d *VulkanDriver) CreateSemaphore(device Handle) (Handle, vk.Result) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var semaphore vk.Semaphore
	if res := vk.CreateSemaphore(d.dev(device), &info, nil, &semaphore); res != vk.Success {
		return NullHandle, res
	}
	return d.put(semaphore), vk.Success
}

func (d *VulkanDriver) DestroySemaphore(device, semaphore Handle) {
	vk.DestroySemaphore(d.dev(device), lookup[vk.Semaphore](d, semaphore), nil)
	d.drop(semaphore)
}

func (d *VulkanDriver) QueueSubmit(queue Handle, submit SubmitInfo, fence Handle) vk.Result {
	info := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(submit.WaitSemaphores)),
		PWaitSemaphores:      lookupAll[vk.Semaphore](d, submit.WaitSemaphores),
		PWaitDstStageMask:    submit.WaitStages,
		CommandBufferCount:   uint32(len(submit.CommandBuffers)),
		PCommandBuffers:      lookupAll[vk.CommandBuffer](d, submit.CommandBuffers),
		SignalSemaphoreCount: uint32(len(submit.SignalSemaphores)),
		PSignalSemaphores:    lookupAll[vk.Semaphore](d, submit.SignalSemaphores),
	}
	return vk.QueueSubmit(lookup[vk.Queue](d, queue), 1, []vk.SubmitInfo{info}, lookup[vk.Fence](d, fence))
}

func (d *VulkanDriver) CreateSwapchain(device Handle, info SwapchainCreateInfo) (Handle, vk.Result) {
	createInfo := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         d.surface,
		MinImageCount:   info.MinImageCount,
		ImageFormat:     info.Format.Format,
		ImageColorSpace: info.Format.ColorSpace,
		ImageExtent:     vk.Extent2D{Width: info.Extent.Width, Height: info.Extent.Height},
		// Always 1 unless stereoscopic.
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     info.Transform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      info.PresentMode,
		Clipped:          vk.True,
		OldSwapchain:     lookup[vk.Swapchain](d, info.OldSwapchain),
	}
	// Setup the queue family indices
	if info.GraphicsFamily != info.PresentFamily {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{info.GraphicsFamily, info.PresentFamily}
	}
	var swapchain vk.Swapchain
	if res := vk.CreateSwapchain(d.dev(device), &createInfo, nil, &swapchain); res != vk.Success {
		return NullHandle, res
	}
	return d.put(swapchain), vk.Success
}

func (d *VulkanDriver) SwapchainImages(device, swapchain Handle) ([]Handle, vk.Result) {
	d.mu.RLock()
	cached, ok := d.swapchainImages[swapchain]
	d.mu.RUnlock()
	if ok {
		return cached, vk.Success
	}
	sc := lookup[vk.Swapchain](d, swapchain)
	var count uint32
	if res := vk.GetSwapchainImages(d.dev(device), sc, &count, nil); res != vk.Success {
		return nil, res
	}
	images := make([]vk.Image, count)
	if res := vk.GetSwapchainImages(d.dev(device), sc, &count, images); res != vk.Success {
		return nil, res
	}
	handles := make([]Handle, count)
	for i, img := range images {
		handles[i] = d.put(img)
	}
	d.mu.Lock()
	d.swapchainImages[swapchain] = handles
	d.mu.Unlock()
	return handles, vk.Success
}

func (d *VulkanDriver) DestroySwapchain(device, swapchain Handle) {
	vk.DestroySwapchain(d.dev(device), lookup[vk.Swapchain](d, swapchain), nil)
	d.mu.Lock()
	for _, img := range d.swapchainImages[swapchain] {
		delete(d.objects, img)
	}
	delete(d.swapchainImages, swapchain)
	delete(d.objects, swapchain)
	d.mu.Unlock()
}

func (d *VulkanDriver) AcquireNextImage(device, swapchain Handle, timeout uint64, semaphore, fence Handle) (uint32, vk.Result) {
	var index uint32
	res := vk.AcquireNextImage(d.dev(device), lookup[vk.Swapchain](d, swapchain), timeout,
		lookup[vk.Semaphore](d, semaphore), lookup[vk.Fence](d, fence), &index)
	return index, res
}

func (d *VulkanDriver) QueuePresent(queue Handle, info PresentInfo) vk.Result {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(info.WaitSemaphores)),
		PWaitSemaphores:    lookupAll[vk.Semaphore](d, info.WaitSemaphores),
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{lookup[vk.Swapchain](d, info.Swapchain)},
		PImageIndices:      []uint32{info.ImageIndex},
	}
	return vk.QueuePresent(lookup[vk.Queue](d, queue), &presentInfo)
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		core.LogDebug("DEBUG: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
