// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package sylog implements a basic leveled logger with a prefixed text
// output format, controlled by the OCIBUNDLE_MESSAGELEVEL environment
// variable or SetLevel.
package sylog
