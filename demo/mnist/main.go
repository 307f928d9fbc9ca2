package main

import (
	"flag"
	"log"
	"os"
	"sync"
	"time"

	mocapsnet "github.com/TolerantChief/MoCapsNet"
	"github.com/TolerantChief/MoCapsNet/capstrain"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/mnist"
	"github.com/unixpickle/rip"
	"github.com/unixpickle/serializer"
)

func main() {
	var (
		epochs    = flag.Int("epochs", 30, "number of training epochs")
		batchSize = flag.Int("batch", 128, "mini-batch size")
		lr        = flag.Float64("lr", 1e-3, "learning rate")
		routing   = flag.Int("routing", 3, "routing iterations")
		blocks    = flag.Int("blocks", 1, "number of residual blocks")
		residual  = flag.Bool("residual", false, "use residual shortcuts")
		momentum  = flag.Bool("momentum", false, "use momentum-residual shortcuts")
		gamma     = flag.Float64("gamma", 0.9, "momentum term")
		patience  = flag.Int("patience", 10, "early-stopping patience in epochs")
		netPath   = flag.String("net", "mocapsnet_mnist.bin", "network checkpoint file")
	)
	flag.Parse()

	log.Println("Setting up...")

	creator := anyvec32.CurrentCreator()

	var network *mocapsnet.Network
	if err := serializer.LoadAny(*netPath, &network); err == nil {
		log.Println("Loaded network from", *netPath)
	} else {
		network = mocapsnet.NewNetwork(creator, mocapsnet.NetworkConfig{
			ImageWidth:  28,
			ImageHeight: 28,
			ImageDepth:  1,
			NumClasses:  10,
			Iterations:  *routing,
			NumBlocks:   *blocks,
			Residual:    *residual,
			Momentum:    *momentum,
			Gamma:       *gamma,
		})
		log.Println("Created new network")
	}

	training := dataSetSamples(creator, mnist.LoadTrainingDataSet())
	testing := mnist.LoadTestingDataSet()

	trainer := &capstrain.Trainer{
		Net:     network,
		Loss:    mocapsnet.DefaultLoss(),
		Params:  network.Parameters(),
		Average: true,
	}

	sgd := &anysgd.SGD{
		Fetcher:     trainer,
		Gradienter:  trainer,
		Transformer: &anysgd.Adam{},
		Samples:     training,
		Rater:       anysgd.ConstRater(*lr),
		BatchSize:   *batchSize,
	}

	kill := rip.NewRIP()
	stopper := &capstrain.EarlyStopper{Patience: *patience}

	log.Println("Press ctrl+c once to stop...")

	var iterNum int
	for epoch := 1; epoch <= *epochs; epoch++ {
		target := epoch * training.Len()
		epochDone := make(chan struct{})
		var once sync.Once
		sgd.StatusFunc = func(b anysgd.Batch) {
			select {
			case <-kill.Chan():
				once.Do(func() { close(epochDone) })
				return
			default:
			}
			if sgd.NumProcessed >= target {
				once.Do(func() { close(epochDone) })
				return
			}
			log.Printf("iter %d: cost=%v", iterNum, trainer.LastCost)
			iterNum++
		}

		start := time.Now()
		sgd.Run(epochDone)

		var interrupted bool
		select {
		case <-kill.Chan():
			interrupted = true
		default:
		}

		acc := accuracy(network, creator, testing, *batchSize)
		log.Printf("epoch %d: cost=%v accuracy=%.4f elapsed=%s", epoch,
			trainer.LastCost, acc, time.Since(start).Round(time.Second))

		if stopper.Report(acc) == capstrain.Stopped {
			log.Printf("early stop: best accuracy %.4f at epoch %d",
				stopper.BestAccuracy, stopper.BestEpoch)
			break
		}
		stopper.Resume()
		if interrupted {
			break
		}
	}

	if err := serializer.SaveAny(*netPath, network); err != nil {
		log.Println("Save failed:", err)
		os.Exit(1)
	}
	log.Println("Saved network to", *netPath)
}

func dataSetSamples(c anyvec.Creator, ds mnist.DataSet) capstrain.SliceSampleList {
	res := make(capstrain.SliceSampleList, 0, len(ds.Samples))
	for _, s := range ds.Samples {
		res = append(res, &capstrain.Sample{
			Image: c.MakeVectorData(c.MakeNumericList(s.Intensities)),
			Label: s.Label,
		})
	}
	return res
}

func accuracy(network *mocapsnet.Network, c anyvec.Creator, ds mnist.DataSet,
	batchSize int) float64 {
	var correct int
	for i := 0; i < len(ds.Samples); i += batchSize {
		j := essentials.MinInt(i+batchSize, len(ds.Samples))
		var pixels []float64
		for _, s := range ds.Samples[i:j] {
			pixels = append(pixels, s.Intensities...)
		}
		in := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(pixels)))
		for k, pred := range network.Classify(in, j-i) {
			if pred == ds.Samples[i+k].Label {
				correct++
			}
		}
	}
	return float64(correct) / float64(len(ds.Samples))
}
