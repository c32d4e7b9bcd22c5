package vulkan

import (
	"sort"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/prism/engine/core"
)

type VulkanSwapchainSupportInfo = SurfaceSupport

type VulkanDevice struct {
	PhysicalDevice     AdapterInfo
	LogicalDevice      Handle
	SwapchainSupport   VulkanSwapchainSupportInfo
	GraphicsQueueIndex int32
	PresentQueueIndex  int32
	TransferQueueIndex int32

	GraphicsQueue Handle
	PresentQueue  Handle
	TransferQueue Handle

	GraphicsCommandPool Handle

	DepthFormat vk.Format
	// 4 for depth + stencil formats, 3 otherwise.
	DepthChannelCount uint8

	driver Driver
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	Transfer             bool
	DeviceExtensionNames []string
	SamplerAnisotropy    bool
	DiscreteGPU          bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
	TransferFamilyIndex int32
}

// Higher is better.
var deviceTypeRank = map[vk.PhysicalDeviceType]int{
	vk.PhysicalDeviceTypeDiscreteGpu:   4,
	vk.PhysicalDeviceTypeIntegratedGpu: 3,
	vk.PhysicalDeviceTypeVirtualGpu:    2,
	vk.PhysicalDeviceTypeCpu:           1,
}

var deviceTypeNames = map[vk.PhysicalDeviceType]string{
	vk.PhysicalDeviceTypeDiscreteGpu:   "Discrete",
	vk.PhysicalDeviceTypeIntegratedGpu: "Integrated",
	vk.PhysicalDeviceTypeVirtualGpu:    "Virtual",
	vk.PhysicalDeviceTypeCpu:           "CPU",
}

type candidate struct {
	adapter AdapterInfo
	queues  VulkanPhysicalDeviceQueueFamilyInfo
	support SurfaceSupport
}

// NewVulkanDevice selects the best adapter meeting requirements and creates
// the logical device, its queues and the graphics command pool.
func NewVulkanDevice(driver Driver, requirements VulkanPhysicalDeviceRequirements) (*VulkanDevice, error) {
	selected, err := selectPhysicalDevice(driver, requirements)
	if err != nil {
		return nil, err
	}

	core.LogInfo("Creating logical device...")
	device := &VulkanDevice{
		PhysicalDevice:     selected.adapter,
		SwapchainSupport:   selected.support,
		GraphicsQueueIndex: selected.queues.GraphicsFamilyIndex,
		PresentQueueIndex:  selected.queues.PresentFamilyIndex,
		TransferQueueIndex: selected.queues.TransferFamilyIndex,
		driver:             driver,
	}

	// NOTE: Do not create additional queues for shared indices.
	families := []uint32{uint32(device.GraphicsQueueIndex)}
	if device.PresentQueueIndex != device.GraphicsQueueIndex {
		families = append(families, uint32(device.PresentQueueIndex))
	}
	if device.TransferQueueIndex != device.GraphicsQueueIndex && device.TransferQueueIndex != device.PresentQueueIndex {
		families = append(families, uint32(device.TransferQueueIndex))
	}

	extensions := []string{vk.KhrSwapchainExtensionName}
	if selected.adapter.HasExtension("VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	logical, res := driver.CreateDevice(selected.adapter.Handle, DeviceCreateInfo{
		QueueFamilies:     families,
		Extensions:        extensions,
		SamplerAnisotropy: selected.adapter.SamplerAnisotropy,
	})
	if res != vk.Success {
		return nil, core.NewFatalError(core.FatalDeviceCreation, resultError(res, "vkCreateDevice"))
	}
	device.LogicalDevice = logical
	core.LogInfo("Logical device created.")

	device.GraphicsQueue = driver.GetQueue(logical, uint32(device.GraphicsQueueIndex), 0)
	device.PresentQueue = driver.GetQueue(logical, uint32(device.PresentQueueIndex), 0)
	device.TransferQueue = driver.GetQueue(logical, uint32(device.TransferQueueIndex), 0)
	core.LogInfo("Queues obtained.")

	pool, res := driver.CreateCommandPool(logical, uint32(device.GraphicsQueueIndex))
	if res != vk.Success {
		driver.DestroyDevice(logical)
		return nil, core.NewFatalError(core.FatalDeviceCreation, resultError(res, "vkCreateCommandPool"))
	}
	device.GraphicsCommandPool = pool
	core.LogInfo("Graphics command pool created.")

	if !device.DetectDepthFormat() {
		device.Destroy()
		return nil, core.NewFatalError(core.FatalDeviceCreation, errors.New("no supported depth format"))
	}
	return device, nil
}

func (d *VulkanDevice) Destroy() {
	if d.LogicalDevice == NullHandle {
		return
	}
	core.LogInfo("Destroying command pools...")
	if d.GraphicsCommandPool != NullHandle {
		d.driver.DestroyCommandPool(d.LogicalDevice, d.GraphicsCommandPool)
		d.GraphicsCommandPool = NullHandle
	}
	core.LogInfo("Destroying logical device...")
	d.driver.DestroyDevice(d.LogicalDevice)
	d.LogicalDevice = NullHandle
	d.GraphicsQueue, d.PresentQueue, d.TransferQueue = NullHandle, NullHandle, NullHandle
}

// QueueFamily returns the family index queue was obtained from.
func (d *VulkanDevice) QueueFamily(queue Handle) uint32 {
	switch queue {
	case d.PresentQueue:
		if queue != d.GraphicsQueue {
			return uint32(d.PresentQueueIndex)
		}
	case d.TransferQueue:
		if queue != d.GraphicsQueue {
			return uint32(d.TransferQueueIndex)
		}
	}
	return uint32(d.GraphicsQueueIndex)
}

func (d *VulkanDevice) WaitIdle() error {
	return resultError(d.driver.DeviceWaitIdle(d.LogicalDevice), "vkDeviceWaitIdle")
}

// QuerySwapchainSupport refreshes the cached surface capabilities, formats
// and present modes.
func (d *VulkanDevice) QuerySwapchainSupport() (VulkanSwapchainSupportInfo, error) {
	support, res := d.driver.QuerySurface(d.PhysicalDevice.Handle)
	if err := logResult(res, "vkGetPhysicalDeviceSurfaceCapabilities"); err != nil {
		return support, err
	}
	d.SwapchainSupport = support
	return support, nil
}

// DetectDepthFormat picks the first depth format usable as an optimal tiling
// attachment.
func (d *VulkanDevice) DetectDepthFormat() bool {
	candidates := []vk.Format{vk.FormatD32Sfloat, vk.FormatD32SfloatS8Uint, vk.FormatD24UnormS8Uint}
	channels := []uint8{3, 4, 4}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for i, format := range candidates {
		if d.driver.FormatFeatures(d.PhysicalDevice.Handle, format)&flags == flags {
			d.DepthFormat = format
			d.DepthChannelCount = channels[i]
			return true
		}
	}
	return false
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has all of propertyFlags, or -1.
func (d *VulkanDevice) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) int32 {
	for i, t := range d.PhysicalDevice.MemoryTypes {
		if typeFilter&(1<<uint32(i)) != 0 && t.PropertyFlags&propertyFlags == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

func selectPhysicalDevice(driver Driver, requirements VulkanPhysicalDeviceRequirements) (*candidate, error) {
	adapters, res := driver.Adapters()
	if res != vk.Success || len(adapters) == 0 {
		core.LogError("No devices which support Vulkan were found.")
		return nil, core.NewFatalError(core.FatalNoDevice, errors.New("no devices which support Vulkan were found"))
	}

	var candidates []candidate
	for _, adapter := range adapters {
		queues, ok := physicalDeviceMeetsRequirements(adapter, requirements)
		if !ok {
			continue
		}
		support, res := driver.QuerySurface(adapter.Handle)
		if res != vk.Success || len(support.Formats) < 1 || len(support.PresentModes) < 1 {
			core.LogInfo("Required swapchain support not present, skipping device.")
			continue
		}
		candidates = append(candidates, candidate{adapter: adapter, queues: queues, support: support})
	}
	if len(candidates) == 0 {
		core.LogError("No physical devices were found which meet the requirements.")
		return nil, core.NewFatalError(core.FatalNoDevice, errors.New("no physical devices were found which meet the requirements"))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].adapter, candidates[j].adapter
		if deviceTypeRank[a.Type] != deviceTypeRank[b.Type] {
			return deviceTypeRank[a.Type] > deviceTypeRank[b.Type]
		}
		return a.DeviceLocalMemory() > b.DeviceLocalMemory()
	})

	selected := &candidates[0]
	core.LogInfo("Selected device: '%s'.", selected.adapter.Name)
	if name, ok := deviceTypeNames[selected.adapter.Type]; ok {
		core.LogInfo("GPU type is %s.", name)
	} else {
		core.LogInfo("GPU type is Unknown.")
	}
	for _, heap := range selected.adapter.MemoryHeaps {
		gib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if heap.DeviceLocal {
			core.LogInfo("Local GPU memory: %.2f GiB", gib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", gib)
		}
	}
	core.LogInfo("Physical device selected.")
	return selected, nil
}

func physicalDeviceMeetsRequirements(adapter AdapterInfo, requirements VulkanPhysicalDeviceRequirements) (VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	info := VulkanPhysicalDeviceQueueFamilyInfo{GraphicsFamilyIndex: -1, PresentFamilyIndex: -1, TransferFamilyIndex: -1}

	if requirements.DiscreteGPU && adapter.Type != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogInfo("Device is not a discrete GPU, and one is required. Skipping.")
		return info, false
	}

	minTransferScore := 255
	for i, family := range adapter.QueueFamilies {
		currentTransferScore := 0
		if family.Flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			if info.GraphicsFamilyIndex < 0 {
				info.GraphicsFamilyIndex = int32(i)
			}
			currentTransferScore++
		}
		if family.Flags&vk.QueueFlags(vk.QueueComputeBit) != 0 {
			currentTransferScore++
		}
		// Take the index if it is the current lowest. This increases the
		// likelihood that it is a dedicated transfer queue.
		if family.Flags&vk.QueueFlags(vk.QueueTransferBit) != 0 && currentTransferScore <= minTransferScore {
			minTransferScore = currentTransferScore
			info.TransferFamilyIndex = int32(i)
		}
		// Prefer presenting from the graphics family.
		if family.PresentReady && (info.PresentFamilyIndex < 0 || int32(i) == info.GraphicsFamilyIndex) {
			info.PresentFamilyIndex = int32(i)
		}
	}

	core.LogInfo("Graphics | Present | Transfer | Name")
	core.LogInfo("       %t |       %t |        %t | %s",
		info.GraphicsFamilyIndex >= 0, info.PresentFamilyIndex >= 0, info.TransferFamilyIndex >= 0, adapter.Name)

	if (requirements.Graphics && info.GraphicsFamilyIndex < 0) ||
		(requirements.Present && info.PresentFamilyIndex < 0) ||
		(requirements.Transfer && info.TransferFamilyIndex < 0) {
		return info, false
	}
	if info.TransferFamilyIndex < 0 {
		info.TransferFamilyIndex = info.GraphicsFamilyIndex
	}
	core.LogDebug("Graphics Family Index: %d", info.GraphicsFamilyIndex)
	core.LogDebug("Present Family Index:  %d", info.PresentFamilyIndex)
	core.LogDebug("Transfer Family Index: %d", info.TransferFamilyIndex)

	for _, name := range requirements.DeviceExtensionNames {
		if !adapter.HasExtension(name) {
			core.LogInfo("Required extension not found: '%s', skipping device.", name)
			return info, false
		}
	}
	if requirements.SamplerAnisotropy && !adapter.SamplerAnisotropy {
		core.LogInfo("Device does not support samplerAnisotropy, skipping.")
		return info, false
	}
	return info, true
}
