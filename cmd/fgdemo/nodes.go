package main

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/gpucore"
)

var instances = instanceTransforms()

// recordsDraws reports whether the device can run the demo's draws and
// dispatches. The demo builds no pipelines, so only the software device
// records them; other devices still run every barrier, copy and download.
func recordsDraws(d gpucore.Device) bool {
	return d.Name() == backend.Software
}

func textureDesc(label string, w, h uint32, f gpucore.TextureFormat) framegraph.TextureDesc {
	return framegraph.TextureDesc{TextureDesc: gpucore.TextureDesc{
		Label:  label,
		Width:  w,
		Height: h,
		Format: f,
	}}
}

// gbufferNode rasterizes the cube grid into albedo, normal and depth.
type gbufferNode struct {
	camera    framegraph.DataPin[Camera]
	instances framegraph.BufferPin
	albedo    framegraph.TexturePin
	normal    framegraph.TexturePin
	depth     framegraph.TexturePin
	draw      bool
}

func (n *gbufferNode) DeclarePins(p *framegraph.PinSet) {
	n.camera = framegraph.Data[Camera](p, "camera", framegraph.Required())
	n.instances = p.Buffer("instances")
	n.albedo = p.Texture("albedo")
	n.normal = p.Texture("normal")
	n.depth = p.Texture("depth")
}

func (n *gbufferNode) Init(ctx *framegraph.InitContext) error {
	n.draw = recordsDraws(ctx.Device())
	return nil
}

func (n *gbufferNode) Build(ctx *framegraph.BuildContext) error {
	cam := framegraph.Access(ctx, n.camera)
	span, err := ctx.StageUpload(instances)
	if err != nil {
		return err
	}

	ctx.GraphicsPass()
	ctx.CreateBufferFromStaged(n.instances, span, gpucore.BufferStorageRead)
	ctx.CreateTexture(n.albedo, textureDesc("albedo", cam.Width, cam.Height, gpucore.TextureFormatRGBA8Unorm), gpucore.RenderTargetWrite)
	ctx.CreateTexture(n.normal, textureDesc("normal", cam.Width, cam.Height, gpucore.TextureFormatRG16Float), gpucore.RenderTargetWrite)
	ctx.CreateTexture(n.depth, textureDesc("depth", cam.Width, cam.Height, gpucore.TextureFormatDepth32Float), gpucore.DepthStencilWrite)
	return nil
}

func (n *gbufferNode) Execute(ctx *framegraph.ExecuteContext) error {
	if !n.draw {
		return nil
	}
	cam := framegraph.Access(ctx, n.camera)
	ctx.BindDescriptorSets([]gpucore.Binding{
		{Slot: 0, Kind: gpucore.BindingBuffer, Buffer: ctx.Buffer(n.instances)},
	})
	ctx.PushConstants(gpucore.ShaderStageVertex, 0, appendMatrix(nil, cam.ViewProj))
	ctx.DrawIndexed(cubeIndices, gridSize*gridSize, 0, 0, 0)
	return nil
}

// shadowNode renders the cube grid depth from the light.
type shadowNode struct {
	light     framegraph.DataPin[Light]
	instances framegraph.BufferPin
	shadow    framegraph.TexturePin
	draw      bool
}

func (n *shadowNode) DeclarePins(p *framegraph.PinSet) {
	n.light = framegraph.Data[Light](p, "light", framegraph.Required())
	n.instances = p.Buffer("instances", framegraph.Required())
	n.shadow = p.Texture("shadow")
}

func (n *shadowNode) Init(ctx *framegraph.InitContext) error {
	n.draw = recordsDraws(ctx.Device())
	return nil
}

func (n *shadowNode) Build(ctx *framegraph.BuildContext) error {
	ctx.GraphicsPass()
	ctx.AcquireBuffer(n.instances, gpucore.BufferStorageRead)
	ctx.CreateTexture(n.shadow, textureDesc("shadow map", shadowExtent, shadowExtent, gpucore.TextureFormatDepth32Float), gpucore.DepthStencilWrite)
	return nil
}

func (n *shadowNode) Execute(ctx *framegraph.ExecuteContext) error {
	if !n.draw {
		return nil
	}
	light := framegraph.Access(ctx, n.light)
	ctx.BindDescriptorSets([]gpucore.Binding{
		{Slot: 0, Kind: gpucore.BindingBuffer, Buffer: ctx.Buffer(n.instances)},
	})
	ctx.PushConstants(gpucore.ShaderStageVertex, 0, appendMatrix(nil, light.ViewProj))
	ctx.DrawIndexed(cubeIndices, gridSize*gridSize, 0, 0, 0)
	return nil
}

// lightingNode resolves the G-buffer into HDR color in a compute pass. The
// shadow map is optional; without it every texel is lit.
type lightingNode struct {
	albedo framegraph.TexturePin
	normal framegraph.TexturePin
	depth  framegraph.TexturePin
	shadow framegraph.TexturePin
	hdr    framegraph.TexturePin
	draw   bool
}

func (n *lightingNode) DeclarePins(p *framegraph.PinSet) {
	n.albedo = p.Texture("albedo", framegraph.Required())
	n.normal = p.Texture("normal", framegraph.Required())
	n.depth = p.Texture("depth", framegraph.Required())
	n.shadow = p.Texture("shadow")
	n.hdr = p.Texture("hdr")
}

func (n *lightingNode) Init(ctx *framegraph.InitContext) error {
	n.draw = recordsDraws(ctx.Device())
	return nil
}

func (n *lightingNode) Build(ctx *framegraph.BuildContext) error {
	ctx.ComputePass()
	ctx.AcquireTexture(n.albedo, gpucore.ShaderRead)
	ctx.AcquireTexture(n.normal, gpucore.ShaderRead)
	ctx.AcquireTexture(n.depth, gpucore.ShaderRead)
	if ctx.HasSource(n.shadow) {
		ctx.AcquireTexture(n.shadow, gpucore.ShaderRead)
	}
	desc, ok := ctx.TextureDesc(n.albedo)
	if !ok {
		return nil
	}
	ctx.CreateTexture(n.hdr, textureDesc("hdr", desc.Width, desc.Height, gpucore.TextureFormatRGBA16Float), gpucore.StorageWrite)
	return nil
}

func (n *lightingNode) Execute(ctx *framegraph.ExecuteContext) error {
	if !n.draw {
		return nil
	}
	var shadowed uint32
	if ctx.HasSource(n.shadow) {
		shadowed = 1
	}
	ctx.PushConstants(gpucore.ShaderStageCompute, 0, binary.LittleEndian.AppendUint32(nil, shadowed))
	w, h := ctx.Resolution(n.hdr)
	ctx.Dispatch((w+7)/8, (h+7)/8, 1)
	return nil
}

const histogramBins = 64

// luminanceNode builds a luminance histogram of the HDR image and reads it
// back. The average of each resolved readback is logged.
type luminanceNode struct {
	hdr       framegraph.TexturePin
	histogram framegraph.BufferPin
	readback  framegraph.PassID
	pending   []*framegraph.Download
	draw      bool
}

func (n *luminanceNode) DeclarePins(p *framegraph.PinSet) {
	n.hdr = p.Texture("hdr", framegraph.Required())
	n.histogram = p.Buffer("histogram")
}

func (n *luminanceNode) Init(ctx *framegraph.InitContext) error {
	n.draw = recordsDraws(ctx.Device())
	return nil
}

func (n *luminanceNode) Build(ctx *framegraph.BuildContext) error {
	n.collect(ctx)

	ctx.ComputePass()
	ctx.AcquireTexture(n.hdr, gpucore.ShaderRead)
	if err := ctx.CreateBuffer(n.histogram, framegraph.BufferDesc{
		Label: "luminance histogram",
		Size:  histogramBins * 4,
	}, gpucore.BufferStorageWrite); err != nil {
		return err
	}
	n.readback = ctx.TransferPass()
	ctx.AcquireBuffer(n.histogram, gpucore.BufferDownload)
	return nil
}

func (n *luminanceNode) collect(ctx *framegraph.BuildContext) {
	kept := n.pending[:0]
	for _, d := range n.pending {
		if !d.Ready() {
			kept = append(kept, d)
			continue
		}
		data, ok := d.Bytes()
		if !ok {
			ctx.Logger().Warn("fgdemo: luminance readback failed", "err", d.Err())
			continue
		}
		ctx.Logger().Debug("fgdemo: luminance", "average", averageBin(data))
	}
	n.pending = kept
}

func (n *luminanceNode) Execute(ctx *framegraph.ExecuteContext) error {
	if n.draw {
		w, h := ctx.Resolution(n.hdr)
		ctx.Dispatch((w+15)/16, (h+15)/16, 1)
	}
	ctx.BeginPass(n.readback)
	n.pending = append(n.pending, ctx.Download(n.histogram))
	return nil
}

// averageBin returns the mean bin index of a histogram of uint32 counts.
func averageBin(data []byte) float64 {
	var sum, count float64
	for i := 0; i+4 <= len(data); i += 4 {
		c := float64(binary.LittleEndian.Uint32(data[i:]))
		sum += c * float64(i/4)
		count += c
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / count
}

// presentNode tonemaps HDR color into the swapchain-format frame and
// transitions it for presentation.
type presentNode struct {
	hdr     framegraph.TexturePin
	frame   framegraph.TexturePin
	present framegraph.PassID
	draw    bool
}

func (n *presentNode) DeclarePins(p *framegraph.PinSet) {
	n.hdr = p.Texture("hdr", framegraph.Required())
	n.frame = p.Texture("frame")
}

func (n *presentNode) Init(ctx *framegraph.InitContext) error {
	n.draw = recordsDraws(ctx.Device())
	return nil
}

func (n *presentNode) Build(ctx *framegraph.BuildContext) error {
	ctx.GraphicsPass()
	ctx.AcquireTexture(n.hdr, gpucore.ShaderRead)
	desc, ok := ctx.TextureDesc(n.hdr)
	if !ok {
		return nil
	}
	ctx.CreateTexture(n.frame, textureDesc("frame", desc.Width, desc.Height, gpucore.TextureFormatRGBA8UnormSRGB), gpucore.RenderTargetWrite)
	n.present = ctx.EmptyPass()
	ctx.AcquireTexture(n.frame, gpucore.Present)
	return nil
}

func (n *presentNode) Execute(ctx *framegraph.ExecuteContext) error {
	if n.draw {
		ctx.DrawIndexed(3, 1, 0, 0, 0)
	}
	ctx.BeginPass(n.present)
	return nil
}

// registerNodes adds the demo node types to r.
func registerNodes(r *framegraph.Registry) {
	r.MustRegister(framegraph.NodeOf[gbufferNode]("gbuffer"))
	r.MustRegister(framegraph.NodeOf[shadowNode]("shadow"))
	r.MustRegister(framegraph.NodeOf[lightingNode]("lighting"))
	r.MustRegister(framegraph.NodeOf[luminanceNode]("luminance"))
	r.MustRegister(framegraph.NodeOf[presentNode]("present"))
}

// deferredTemplate wires the deferred lighting graph:
//
//	gbuffer ─┬─────────────> lighting ─┬─> present   (frame)
//	         └─> shadow ────────^      └─> luminance (luminance)
//
// The camera and light are template inputs. The shadow map is also exposed
// as the shadow_debug output.
func deferredTemplate(r *framegraph.Registry) (*framegraph.Template, error) {
	b := framegraph.NewTemplate(r)
	gbuffer := b.AddNode("gbuffer")
	shadow := b.AddNode("shadow")
	lighting := b.AddNode("lighting")
	luminance := b.AddNode("luminance")
	present := b.AddNode("present")

	b.MakeInput(gbuffer, "camera", "camera")
	b.MakeInput(shadow, "light", "light")
	b.Connect(gbuffer, "instances", shadow, "instances")
	for _, pin := range []string{"albedo", "normal", "depth"} {
		b.Connect(gbuffer, pin, lighting, pin)
	}
	b.Connect(shadow, "shadow", lighting, "shadow")
	b.Connect(lighting, "hdr", present, "hdr")
	b.Connect(lighting, "hdr", luminance, "hdr")

	b.MakeOutput(present, "frame", "frame")
	b.MakeOutput(luminance, "histogram", "luminance")
	b.MakeOutput(shadow, "shadow", "shadow_debug")
	return b.Build()
}
