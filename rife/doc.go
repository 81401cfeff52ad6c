/*
Package rife drives a RIFE (Real-Time Intermediate Flow Estimation) frame
interpolation model as a black box.

The network itself is not implemented here. A Model only has to load its
weights from a directory and turn two batches of frames into the batch of
frames halfway between them. Everything around that call lives in this
package: packing BGR24 frames into padded float tensors, the recursive
schedule that produces 2^exp - 1 intermediate frames, and the similarity
measure used to spot static or failed pairs.

Basic usage:

	opts := rife.DefaultOptions()
	opts.Backend = rife.BackendProcess
	opts.ModelDir = "./train_log"
	m, err := rife.New(opts)
	if err != nil {
	    log.Fatal(err)
	}
	defer m.Close()

	i0 := rife.PadBatch(left, width, height)
	i1 := rife.PadBatch(right, width, height)
	mids, err := rife.Schedule(ctx, m, i0, i1, 2)
	if err != nil {
	    log.Fatal(err)
	}

	for _, mid := range mids {
	    frames, err := rife.UnpadFrames(mid, width, height)
	    ...
	}
*/
package rife
