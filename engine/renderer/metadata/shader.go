package metadata

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

const (
	// Max number of objects a single shader can hold descriptor state for.
	DefaultMaxObjects uint32 = 1024
	// Binding slot of the uniform block inside the global and object sets.
	UniformBlockBinding uint32 = 0
)

// ShaderStage is a bitmask of programmable pipeline stages.
type ShaderStage uint32

const (
	ShaderStageVertex   ShaderStage = 0x00000001
	ShaderStageGeometry ShaderStage = 0x00000002
	ShaderStageFragment ShaderStage = 0x00000004
	ShaderStageCompute  ShaderStage = 0x00000008
)

var shaderStageNames = map[string]ShaderStage{
	"vertex":   ShaderStageVertex,
	"vert":     ShaderStageVertex,
	"geometry": ShaderStageGeometry,
	"geom":     ShaderStageGeometry,
	"fragment": ShaderStageFragment,
	"frag":     ShaderStageFragment,
	"compute":  ShaderStageCompute,
	"comp":     ShaderStageCompute,
}

// UnmarshalText accepts a single stage name or a "|" separated list.
func (s *ShaderStage) UnmarshalText(text []byte) error {
	var out ShaderStage
	for _, part := range strings.Split(string(text), "|") {
		stage, ok := shaderStageNames[strings.ToLower(strings.TrimSpace(part))]
		if !ok {
			return fmt.Errorf("string %s is not a valid ShaderStage", part)
		}
		out |= stage
	}
	*s = out
	return nil
}

func (s ShaderStage) String() string {
	var names []string
	for _, n := range []struct {
		stage ShaderStage
		name  string
	}{{ShaderStageVertex, "vertex"}, {ShaderStageGeometry, "geometry"}, {ShaderStageFragment, "fragment"}, {ShaderStageCompute, "compute"}} {
		if s&n.stage != 0 {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// ShaderScope selects which descriptor set a uniform or sampler lives in.
type ShaderScope int

const (
	// Global, updated once per frame.
	ShaderScopeGlobal ShaderScope = iota
	// Object, updated per material instance.
	ShaderScopeObject
	// Local, pushed as push constants per draw.
	ShaderScopeLocal
)

func (s *ShaderScope) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "global":
		*s = ShaderScopeGlobal
	case "object", "instance":
		*s = ShaderScopeObject
	case "local":
		*s = ShaderScopeLocal
	default:
		return fmt.Errorf("string %s is not a valid ShaderScope", text)
	}
	return nil
}

func (s ShaderScope) String() string {
	switch s {
	case ShaderScopeGlobal:
		return "global"
	case ShaderScopeObject:
		return "object"
	case ShaderScopeLocal:
		return "local"
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

type ShaderAttributeType uint

const (
	ShaderAttribTypeFloat32 ShaderAttributeType = iota
	ShaderAttribTypeFloat32_2
	ShaderAttribTypeFloat32_3
	ShaderAttribTypeFloat32_4
	ShaderAttribTypeInt32
	ShaderAttribTypeUint32
)

var attributeTypes = map[string]struct {
	t    ShaderAttributeType
	size uint32
}{
	"f32":  {ShaderAttribTypeFloat32, 4},
	"vec2": {ShaderAttribTypeFloat32_2, 8},
	"vec3": {ShaderAttribTypeFloat32_3, 12},
	"vec4": {ShaderAttribTypeFloat32_4, 16},
	"i32":  {ShaderAttribTypeInt32, 4},
	"u32":  {ShaderAttribTypeUint32, 4},
}

func (t *ShaderAttributeType) UnmarshalText(text []byte) error {
	v, ok := attributeTypes[strings.ToLower(string(text))]
	if !ok {
		return fmt.Errorf("string %s is not a valid ShaderAttribType", text)
	}
	*t = v.t
	return nil
}

// Size is the byte size of one attribute of this type.
func (t ShaderAttributeType) Size() uint32 {
	for _, v := range attributeTypes {
		if v.t == t {
			return v.size
		}
	}
	return 0
}

type ShaderUniformType uint

const (
	ShaderUniformTypeFloat32 ShaderUniformType = iota
	ShaderUniformTypeFloat32_2
	ShaderUniformTypeFloat32_3
	ShaderUniformTypeFloat32_4
	ShaderUniformTypeInt32
	ShaderUniformTypeUint32
	ShaderUniformTypeMatrix4
	ShaderUniformTypeCustom ShaderUniformType = 255
)

var uniformTypes = map[string]struct {
	t    ShaderUniformType
	size uint32
}{
	"f32":    {ShaderUniformTypeFloat32, 4},
	"vec2":   {ShaderUniformTypeFloat32_2, 8},
	"vec3":   {ShaderUniformTypeFloat32_3, 12},
	"vec4":   {ShaderUniformTypeFloat32_4, 16},
	"i32":    {ShaderUniformTypeInt32, 4},
	"u32":    {ShaderUniformTypeUint32, 4},
	"mat4":   {ShaderUniformTypeMatrix4, 64},
	"custom": {ShaderUniformTypeCustom, 0},
}

func (t *ShaderUniformType) UnmarshalText(text []byte) error {
	v, ok := uniformTypes[strings.ToLower(string(text))]
	if !ok {
		return fmt.Errorf("string %s is not a valid ShaderUniformType", text)
	}
	*t = v.t
	return nil
}

// Size is the byte size implied by the type, 0 for custom uniforms.
func (t ShaderUniformType) Size() uint32 {
	for _, v := range uniformTypes {
		if v.t == t {
			return v.size
		}
	}
	return 0
}

type CullMode int

const (
	CullModeNone CullMode = iota
	CullModeFront
	CullModeBack
	CullModeFrontAndBack
)

func (c *CullMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "none":
		*c = CullModeNone
	case "front":
		*c = CullModeFront
	case "back":
		*c = CullModeBack
	case "front_and_back":
		*c = CullModeFrontAndBack
	default:
		return fmt.Errorf("string %s is not a valid CullMode", text)
	}
	return nil
}

type FillMode int

const (
	FillModeSolid FillMode = iota
	FillModeWireframe
)

func (f *FillMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "solid":
		*f = FillModeSolid
	case "wireframe":
		*f = FillModeWireframe
	default:
		return fmt.Errorf("string %s is not a valid FillMode", text)
	}
	return nil
}

type BlendMode int

const (
	BlendModeNone BlendMode = iota
	BlendModeAlpha
	BlendModeAdditive
)

func (b *BlendMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "none":
		*b = BlendModeNone
	case "alpha":
		*b = BlendModeAlpha
	case "additive":
		*b = BlendModeAdditive
	default:
		return fmt.Errorf("string %s is not a valid BlendMode", text)
	}
	return nil
}

type CompareOp int

const (
	CompareOpLess CompareOp = iota
	CompareOpLessOrEqual
	CompareOpEqual
	CompareOpGreater
	CompareOpGreaterOrEqual
	CompareOpAlways
	CompareOpNever
)

func (c *CompareOp) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "less":
		*c = CompareOpLess
	case "less_or_equal":
		*c = CompareOpLessOrEqual
	case "equal":
		*c = CompareOpEqual
	case "greater":
		*c = CompareOpGreater
	case "greater_or_equal":
		*c = CompareOpGreaterOrEqual
	case "always":
		*c = CompareOpAlways
	case "never":
		*c = CompareOpNever
	default:
		return fmt.Errorf("string %s is not a valid CompareOp", text)
	}
	return nil
}

type Topology int

const (
	TopologyTriangleList Topology = iota
	TopologyTriangleStrip
	TopologyLineList
	TopologyPointList
)

func (t *Topology) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "triangle_list":
		*t = TopologyTriangleList
	case "triangle_strip":
		*t = TopologyTriangleStrip
	case "line_list":
		*t = TopologyLineList
	case "point_list":
		*t = TopologyPointList
	default:
		return fmt.Errorf("string %s is not a valid Topology", text)
	}
	return nil
}

type DynamicState uint32

const (
	DynamicStateViewport  DynamicState = 0x1
	DynamicStateScissor   DynamicState = 0x2
	DynamicStateLineWidth DynamicState = 0x4
)

func (d *DynamicState) UnmarshalText(text []byte) error {
	var out DynamicState
	for _, part := range strings.Split(string(text), "|") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "viewport":
			out |= DynamicStateViewport
		case "scissor":
			out |= DynamicStateScissor
		case "line_width":
			out |= DynamicStateLineWidth
		default:
			return fmt.Errorf("string %s is not a valid DynamicState", part)
		}
	}
	*d = out
	return nil
}

type ShaderStageConfig struct {
	Stage ShaderStage `toml:"stage"`
	// Path of the compiled stage binary (.spv) or WGSL source (.wgsl).
	File string `toml:"file"`
	// Defaults to "main".
	EntryPoint string `toml:"entry_point"`
}

type ShaderAttributeConfig struct {
	Name string              `toml:"name"`
	Type ShaderAttributeType `toml:"type"`
}

type ShaderUniformConfig struct {
	Name string            `toml:"name"`
	Type ShaderUniformType `toml:"type"`
	// Only read for custom uniforms, other types imply their size.
	Size   uint32      `toml:"size"`
	Offset uint32      `toml:"offset"`
	Stages ShaderStage `toml:"stages"`
	Scope  ShaderScope `toml:"scope"`
}

type ShaderSamplerConfig struct {
	Name    string      `toml:"name"`
	Binding uint32      `toml:"binding"`
	Stages  ShaderStage `toml:"stages"`
	Scope   ShaderScope `toml:"scope"`
}

// ShaderDescription is the declarative input a shader is built from.
type ShaderDescription struct {
	Name       string                  `toml:"name"`
	Stages     []ShaderStageConfig     `toml:"stages"`
	Attributes []ShaderAttributeConfig `toml:"attributes"`
	Uniforms   []ShaderUniformConfig   `toml:"uniforms"`
	Samplers   []ShaderSamplerConfig   `toml:"samplers"`

	CullMode         CullMode     `toml:"cull_mode"`
	FillMode         FillMode     `toml:"fill_mode"`
	CounterClockwise bool         `toml:"counter_clockwise"`
	Blend            BlendMode    `toml:"blend"`
	DepthTest        bool         `toml:"depth_test"`
	DepthWrite       bool         `toml:"depth_write"`
	DepthCompare     CompareOp    `toml:"depth_compare"`
	Topology         Topology     `toml:"topology"`
	DynamicState     DynamicState `toml:"dynamic_state"`
	MaxObjects       uint32       `toml:"max_objects"`
}

// Normalize fills defaults and lays out uniforms that were not given an
// explicit offset: an offset of 0 on any but the first uniform of a scope
// means "right after the previous one".
func (d *ShaderDescription) Normalize() {
	if d.MaxObjects == 0 {
		d.MaxObjects = DefaultMaxObjects
	}
	d.DynamicState |= DynamicStateViewport | DynamicStateScissor
	for i := range d.Stages {
		if d.Stages[i].EntryPoint == "" {
			d.Stages[i].EntryPoint = "main"
		}
	}

	next := map[ShaderScope]uint32{}
	seen := map[ShaderScope]bool{}
	for i := range d.Uniforms {
		u := &d.Uniforms[i]
		if u.Type != ShaderUniformTypeCustom {
			u.Size = u.Type.Size()
		}
		if u.Stages == 0 {
			u.Stages = ShaderStageVertex | ShaderStageFragment
		}
		if u.Offset == 0 && seen[u.Scope] {
			u.Offset = next[u.Scope]
		}
		seen[u.Scope] = true
		next[u.Scope] = max(next[u.Scope], u.Offset+u.Size)
	}
	for i := range d.Samplers {
		if d.Samplers[i].Stages == 0 {
			d.Samplers[i].Stages = ShaderStageFragment
		}
	}
}

// Validate checks the description for layouts the backend cannot build.
func (d *ShaderDescription) Validate() error {
	if d.Name == "" {
		return errors.New("shader description has no name")
	}
	if len(d.Stages) == 0 {
		return errors.Errorf("shader %s has no stages", d.Name)
	}
	names := map[string]bool{}
	for _, u := range d.Uniforms {
		if names[u.Name] {
			return errors.Errorf("shader %s: duplicate uniform %s", d.Name, u.Name)
		}
		names[u.Name] = true
		if u.Size == 0 {
			return errors.Errorf("shader %s: uniform %s has no size", d.Name, u.Name)
		}
	}
	for _, scope := range []ShaderScope{ShaderScopeGlobal, ShaderScopeObject, ShaderScopeLocal} {
		uniforms := d.UniformsIn(scope)
		for i := range uniforms {
			for j := i + 1; j < len(uniforms); j++ {
				a, b := uniforms[i], uniforms[j]
				if a.Offset < b.Offset+b.Size && b.Offset < a.Offset+a.Size {
					return errors.Errorf("shader %s: uniforms %s and %s overlap", d.Name, a.Name, b.Name)
				}
			}
		}
	}
	if d.BlockSize(ShaderScopeLocal) > 128 {
		return errors.Errorf("shader %s: push constants exceed 128 bytes", d.Name)
	}
	bindings := map[ShaderScope]map[uint32]bool{}
	for _, s := range d.Samplers {
		if names[s.Name] {
			return errors.Errorf("shader %s: duplicate name %s", d.Name, s.Name)
		}
		names[s.Name] = true
		if s.Scope == ShaderScopeLocal {
			return errors.Errorf("shader %s: sampler %s cannot be local", d.Name, s.Name)
		}
		if s.Binding == UniformBlockBinding {
			return errors.Errorf("shader %s: sampler %s uses binding %d reserved for the uniform block", d.Name, s.Name, UniformBlockBinding)
		}
		if bindings[s.Scope] == nil {
			bindings[s.Scope] = map[uint32]bool{}
		}
		if bindings[s.Scope][s.Binding] {
			return errors.Errorf("shader %s: sampler binding %d used twice", d.Name, s.Binding)
		}
		bindings[s.Scope][s.Binding] = true
	}
	return nil
}

// UniformsIn returns the uniforms of one scope in declaration order.
func (d *ShaderDescription) UniformsIn(scope ShaderScope) []ShaderUniformConfig {
	var out []ShaderUniformConfig
	for _, u := range d.Uniforms {
		if u.Scope == scope {
			out = append(out, u)
		}
	}
	return out
}

// SamplersIn returns the samplers of one scope in declaration order.
func (d *ShaderDescription) SamplersIn(scope ShaderScope) []ShaderSamplerConfig {
	var out []ShaderSamplerConfig
	for _, s := range d.Samplers {
		if s.Scope == scope {
			out = append(out, s)
		}
	}
	return out
}

// BlockSize is the unaligned byte size of the uniform block of a scope.
func (d *ShaderDescription) BlockSize(scope ShaderScope) uint32 {
	var size uint32
	for _, u := range d.Uniforms {
		if u.Scope == scope {
			size = max(size, u.Offset+u.Size)
		}
	}
	return size
}

// BlockStages is the union of the stage masks of a scope's uniforms.
func (d *ShaderDescription) BlockStages(scope ShaderScope) ShaderStage {
	var stages ShaderStage
	for _, u := range d.Uniforms {
		if u.Scope == scope {
			stages |= u.Stages
		}
	}
	return stages
}

// AttributeStride is the size of one vertex.
func (d *ShaderDescription) AttributeStride() uint32 {
	var stride uint32
	for _, a := range d.Attributes {
		stride += a.Type.Size()
	}
	return stride
}
