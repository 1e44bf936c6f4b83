package framegraph

import (
	"testing"

	"github.com/gogpu/framegraph/backend/software"
	"github.com/gogpu/framegraph/gpucore"
	"github.com/gogpu/framegraph/staging"
)

// Node types shared by the frame graph tests.

var colorDesc = TextureDesc{TextureDesc: gpucore.TextureDesc{
	Width:  64,
	Height: 64,
	Format: gpucore.TextureFormatRGBA8Unorm,
}}

// sourceNode renders a color texture in one graphics pass.
type sourceNode struct {
	out TexturePin
	err error
}

func (n *sourceNode) DeclarePins(p *PinSet) { n.out = p.Texture("out") }

func (n *sourceNode) Build(ctx *BuildContext) error {
	if n.err != nil {
		return n.err
	}
	ctx.GraphicsPass()
	ctx.CreateTexture(n.out, colorDesc, gpucore.RenderTargetWrite)
	return nil
}

func (n *sourceNode) Execute(ctx *ExecuteContext) error {
	ctx.DrawIndexed(3, 1, 0, 0, 0)
	return nil
}

// filterNode reads a texture and writes a new one of the same shape in a
// compute pass.
type filterNode struct {
	in   TexturePin
	out  TexturePin
	seen *gpucore.TextureID
}

func (n *filterNode) DeclarePins(p *PinSet) {
	n.in = p.Texture("in", Required())
	n.out = p.Texture("out")
}

func (n *filterNode) Build(ctx *BuildContext) error {
	ctx.ComputePass()
	ctx.AcquireTexture(n.in, gpucore.ShaderRead)
	desc, ok := ctx.TextureDesc(n.in)
	if !ok {
		return nil
	}
	desc.Label = ""
	desc.Usage = 0
	ctx.CreateTexture(n.out, TextureDesc{TextureDesc: desc}, gpucore.StorageWrite)
	return nil
}

func (n *filterNode) Execute(ctx *ExecuteContext) error {
	if n.seen != nil {
		*n.seen = ctx.Texture(n.in).ID
	}
	w, h := ctx.Resolution(n.out)
	ctx.Dispatch(w/8, h/8, 1)
	return nil
}

// forwardNode makes readers of out read in, without any pass.
type forwardNode struct {
	in  TexturePin
	out TexturePin
}

func (n *forwardNode) DeclarePins(p *PinSet) {
	n.in = p.Texture("in", Required())
	n.out = p.Texture("out")
}

func (n *forwardNode) Build(ctx *BuildContext) error {
	ctx.RerouteTexture(n.in, n.out)
	return nil
}

// mergeNode combines two textures, the second one optional.
type mergeNode struct {
	a, b TexturePin
	out  TexturePin
}

func (n *mergeNode) DeclarePins(p *PinSet) {
	n.a = p.Texture("a", Required())
	n.b = p.Texture("b")
	n.out = p.Texture("out")
}

func (n *mergeNode) Build(ctx *BuildContext) error {
	ctx.ComputePass()
	ctx.AcquireTexture(n.a, gpucore.ShaderRead)
	if ctx.HasSource(n.b) {
		ctx.AcquireTexture(n.b, gpucore.ShaderRead)
	}
	ctx.CreateTexture(n.out, colorDesc, gpucore.StorageWrite)
	return nil
}

func (n *mergeNode) Execute(ctx *ExecuteContext) error {
	ctx.Dispatch(8, 8, 1)
	return nil
}

// bufferNode is a data-only node with a buffer pin, used for type checks.
type bufferNode struct {
	buf BufferPin
}

func (n *bufferNode) DeclarePins(p *PinSet) { n.buf = p.Buffer("buf") }

// emitterNode pushes its input value into a sink.
type emitterNode struct {
	value DataPin[int]
	out   SinkPin[int]
}

func (n *emitterNode) DeclarePins(p *PinSet) {
	n.value = Data[int](p, "value")
	n.out = Sink[int](p, "out")
}

func (n *emitterNode) Build(ctx *BuildContext) error {
	Push(ctx, n.out, *Access(ctx, n.value))
	return nil
}

// collectorNode sums the values pushed into its sink.
type collectorNode struct {
	items SinkPin[int]
	sum   DataPin[int]
}

func (n *collectorNode) DeclarePins(p *PinSet) {
	n.items = Sink[int](p, "items")
	n.sum = Data[int](p, "sum")
}

func (n *collectorNode) Build(ctx *BuildContext) error {
	total := 0
	for _, v := range SinkValues(ctx, n.items) {
		total += v
	}
	*Access(ctx, n.sum) = total
	return nil
}

type resizeEvent struct{}

// eventNode records whether a resize event was raised for its frame.
type eventNode struct {
	out  DataPin[bool]
	seen *[]bool
}

func (n *eventNode) DeclarePins(p *PinSet) { n.out = Data[bool](p, "resized") }

func (n *eventNode) Build(ctx *BuildContext) error {
	*n.seen = append(*n.seen, HasEvent[resizeEvent](ctx))
	return nil
}

// readbackNode uploads Data into a buffer and downloads it again.
type readbackNode struct {
	buf       BufferPin
	data      []byte
	downloads *[]*Download
}

func (n *readbackNode) DeclarePins(p *PinSet) { n.buf = p.Buffer("buf") }

func (n *readbackNode) Build(ctx *BuildContext) error {
	ctx.TransferPass()
	return ctx.CreateBuffer(n.buf, BufferDesc{Label: "readback", Data: n.data}, gpucore.BufferDownload)
}

func (n *readbackNode) Execute(ctx *ExecuteContext) error {
	*n.downloads = append(*n.downloads, ctx.Download(n.buf))
	return nil
}

// historyNode samples a retained texture every frame.
type historyNode struct {
	out     TexturePin
	history RetainedTexture
	pin     TexturePin
	id      *gpucore.TextureID
}

func (n *historyNode) DeclarePins(p *PinSet) { n.out = p.Texture("out") }

func (n *historyNode) Build(ctx *BuildContext) error {
	if !n.history.Valid() {
		h, err := ctx.CreateRetainedTexture(colorDesc, gpucore.ShaderRead)
		if err != nil {
			return err
		}
		n.history = h
	}
	n.pin = ctx.RetainedTexturePin(n.history)
	ctx.ComputePass()
	ctx.AcquireTexture(n.pin, gpucore.ShaderRead)
	ctx.CreateTexture(n.out, colorDesc, gpucore.StorageWrite)
	return nil
}

func (n *historyNode) Execute(ctx *ExecuteContext) error {
	*n.id = ctx.Texture(n.pin).ID
	return nil
}

// stableNode renders into a stable texture and records it every frame.
type stableNode struct {
	out   TexturePin
	id    *gpucore.TextureID
	alive *uint32
}

func (n *stableNode) DeclarePins(p *PinSet) { n.out = p.Texture("out") }

func (n *stableNode) Build(ctx *BuildContext) error {
	ctx.GraphicsPass()
	ctx.CreateTexture(n.out, TextureDesc{TextureDesc: colorDesc.TextureDesc, Stable: true}, gpucore.RenderTargetWrite)
	return nil
}

func (n *stableNode) Execute(ctx *ExecuteContext) error {
	*n.id = ctx.Texture(n.out).ID
	*n.alive = ctx.FramesAlive(n.out)
	return nil
}

// overwriteNode creates a texture on its input pin.
type overwriteNode struct {
	in  TexturePin
	out TexturePin
}

func (n *overwriteNode) DeclarePins(p *PinSet) {
	n.in = p.Texture("in", Required())
	n.out = p.Texture("out")
}

func (n *overwriteNode) Build(ctx *BuildContext) error {
	ctx.ComputePass()
	ctx.CreateTexture(n.in, colorDesc, gpucore.StorageWrite)
	return nil
}

// multipassNode writes one texture in several compute passes.
type multipassNode struct {
	out    TexturePin
	passes []PassID
	skip   bool
}

func (n *multipassNode) DeclarePins(p *PinSet) { n.out = p.Texture("out") }

func (n *multipassNode) Build(ctx *BuildContext) error {
	n.passes = n.passes[:0]
	for i := range 3 {
		n.passes = append(n.passes, ctx.ComputePass())
		if i == 0 {
			ctx.CreateTexture(n.out, colorDesc, gpucore.StorageWrite)
		} else {
			ctx.AcquireTexture(n.out, gpucore.StorageWrite)
		}
	}
	return nil
}

func (n *multipassNode) Execute(ctx *ExecuteContext) error {
	if n.skip {
		ctx.BeginPass(n.passes[2])
		return nil
	}
	for _, id := range n.passes[1:] {
		ctx.BeginPass(id)
	}
	return nil
}

// harness drives frames of a FrameGraph over a software device.
type harness struct {
	t        *testing.T
	device   *software.Device
	fg       *FrameGraph
	registry *Registry
	staging  *staging.Buffer
}

func newHarness(t *testing.T, device *software.Device, opts ...Option) *harness {
	t.Helper()
	if device == nil {
		device = software.New()
	}
	fg, err := New(device, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sb, err := staging.New(device, 4096, staging.WithLabel("test uploads"))
	if err != nil {
		t.Fatalf("staging.New() error = %v", err)
	}
	t.Cleanup(func() {
		fg.Close()
		sb.Close()
	})

	h := &harness{t: t, device: device, fg: fg, registry: NewRegistry(), staging: sb}
	h.registry.MustRegister(NodeOf[sourceNode]("source"))
	h.registry.MustRegister(NodeOf[filterNode]("filter"))
	h.registry.MustRegister(NodeOf[forwardNode]("forward"))
	h.registry.MustRegister(NodeOf[mergeNode]("merge"))
	h.registry.MustRegister(NodeOf[bufferNode]("buffer"))
	h.registry.MustRegister(NodeOf[emitterNode]("emitter"))
	h.registry.MustRegister(NodeOf[collectorNode]("collector"))
	h.registry.MustRegister(NodeOf[multipassNode]("multipass"))
	return h
}

type frameResult struct {
	cmd      *software.CommandBuffer
	buildErr error
	execErr  error
}

// frame builds, executes and submits one frame.
func (h *harness) frame() frameResult {
	h.t.Helper()
	h.staging.BeginFrame(h.device.SubmitIndex())

	cmd, err := h.device.BeginCommandBuffer("frame")
	if err != nil {
		h.t.Fatalf("BeginCommandBuffer() error = %v", err)
	}
	res := frameResult{cmd: cmd.(*software.CommandBuffer)}
	res.buildErr = h.fg.Build(BuildArgs{Staging: h.staging})
	res.execErr = h.fg.Execute(ExecuteArgs{Command: cmd})
	h.staging.EndFrame()

	if _, err := h.device.Submit(cmd); err != nil {
		h.t.Fatalf("Submit() error = %v", err)
	}
	h.staging.NotifyFinishedFrames(h.device.LastFinishedSubmit())
	return res
}

// mustFrame runs a frame that must not fail.
func (h *harness) mustFrame() *software.CommandBuffer {
	h.t.Helper()
	res := h.frame()
	if res.buildErr != nil {
		h.t.Fatalf("Build() error = %v", res.buildErr)
	}
	if res.execErr != nil {
		h.t.Fatalf("Execute() error = %v", res.execErr)
	}
	return res.cmd
}

func (h *harness) mustBuild(b *TemplateBuilder) *Template {
	h.t.Helper()
	tmpl, err := b.Build()
	if err != nil {
		h.t.Fatalf("TemplateBuilder.Build() error = %v", err)
	}
	return tmpl
}
